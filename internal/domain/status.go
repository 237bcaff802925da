package domain

// JobStatus — статус задания в планировщике.
//
// Жизненный цикл:
//
//	(нет) ──schedule──▶ PENDING ──claim──▶ PROCESSING ──complete──▶ (нет)
//	                      ▲                     │
//	                      │ retry / recover     │
//	                      └─────────◀───────────┘
type JobStatus string

const (
	// JobStatusPending — задание в scheduled-set, ждёт своего времени.
	JobStatusPending JobStatus = "pending"

	// JobStatusProcessing — задание захвачено воркером.
	JobStatusProcessing JobStatus = "processing"

	// JobStatusCompleted — последний тик завершился успешно
	// (фиксируется в result-ledger; само задание уже перепланировано).
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed — последний тик завершился ошибкой.
	JobStatusFailed JobStatus = "failed"
)

// WorkerStatus — статус воркера в реестре.
//
// Жизненный цикл:
//
//	starting → running → stopping → stopped
type WorkerStatus string

const (
	// WorkerStatusStarting — воркер инициализируется.
	WorkerStatusStarting WorkerStatus = "starting"

	// WorkerStatusRunning — воркер обрабатывает задания.
	WorkerStatusRunning WorkerStatus = "running"

	// WorkerStatusStopping — запрошена остановка: воркер дорабатывает
	// текущие задания и не берёт новые.
	WorkerStatusStopping WorkerStatus = "stopping"

	// WorkerStatusStopped — воркер остановлен.
	WorkerStatusStopped WorkerStatus = "stopped"
)

// IsTerminal возвращает true, если статус финальный.
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerStatusStopped
}

// ParseWorkerStatus парсит строку в WorkerStatus.
// Неизвестные значения трактуются как stopped.
func ParseWorkerStatus(s string) WorkerStatus {
	switch s {
	case "starting":
		return WorkerStatusStarting
	case "running":
		return WorkerStatusRunning
	case "stopping":
		return WorkerStatusStopping
	case "stopped":
		return WorkerStatusStopped
	default:
		return WorkerStatusStopped
	}
}
