package resource

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel-ошибки уровня ресурсов.
var (
	// ErrValidation — некорректные данные ресурса (версия, applies-to, редакция)
	ErrValidation = errors.New("некорректные данные ресурса")
	// ErrUpdate — операция над репозиторием не может быть выполнена
	ErrUpdate = errors.New("ошибка обновления репозитория")
	// ErrConsistency — несколько ресурсов претендуют на одно место в репозитории
	// или кэш видимости расходится с состоянием backend
	ErrConsistency = errors.New("нарушена согласованность репозитория")
)

// UpdateError — ошибка обновления с перечнем затронутых ресурсов.
// Kind — ErrUpdate или ErrConsistency.
type UpdateError struct {
	Kind        error    // Вид ошибки (ErrUpdate, ErrConsistency)
	Message     string   // Человекочитаемое описание
	ResourceIDs []string // Затронутые ресурсы
	Err         error    // Исходная ошибка (может быть nil)
}

// NewUpdateError создаёт ошибку вида ErrUpdate.
func NewUpdateError(message string, err error, ids ...string) *UpdateError {
	return &UpdateError{Kind: ErrUpdate, Message: message, ResourceIDs: ids, Err: err}
}

// NewConsistencyError создаёт ошибку вида ErrConsistency.
func NewConsistencyError(message string, ids ...string) *UpdateError {
	return &UpdateError{Kind: ErrConsistency, Message: message, ResourceIDs: ids}
}

func (e *UpdateError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.ResourceIDs) > 0 {
		fmt.Fprintf(&sb, " (ресурсы: %s)", strings.Join(e.ResourceIDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *UpdateError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
