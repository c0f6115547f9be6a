// errors.go — ошибки сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — некорректный запрос загрузки.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUnknownStrategy — стратегия с таким именем не поддерживается.
	ErrUnknownStrategy = errors.New("неизвестная стратегия загрузки")
)
