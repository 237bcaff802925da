// Package platform содержит клиентов внешних рекламных платформ
// и порт поиска учётных данных пользователей.
//
// Платформа M работает на уровне ad set: перед сменой статуса
// ad set читается для валидации. Платформа G меняет статус кампании.
// Оба клиента возвращают *ratelimit.APIError для неуспешных ответов,
// чтобы лимитер классифицировал ошибку и учёл серверный Retry-After.
package platform
