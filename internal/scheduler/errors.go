package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrJobNotFound — запись задания отсутствует в координационном сторе.
	ErrJobNotFound = errors.New("job not found")

	// ErrCorruptJob — запись задания не парсится. Такие записи
	// вычищаются из всех наборов при выборке.
	ErrCorruptJob = errors.New("corrupt job record")
)
