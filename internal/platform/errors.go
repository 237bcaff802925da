package platform

import "errors"

// Ошибки платформенных клиентов.
var (
	// ErrAdSetNotFound — ad set не существует на платформе.
	// Ошибка окончательная: действие над целью фиксируется как
	// неуспешное, статус не обновляется.
	ErrAdSetNotFound = errors.New("ad set not found")

	// ErrAccountNotConnected — у пользователя нет подключённого
	// аккаунта платформы.
	ErrAccountNotConnected = errors.New("account not found")
)
