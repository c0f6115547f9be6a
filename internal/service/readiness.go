// readiness.go — проверка готовности backend репозитория для health endpoint.
package service

import (
	"context"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
)

// BackendReadinessChecker — проверка готовности backend через CheckStatus.
// Реализует интерфейс handlers.ReadinessChecker.
type BackendReadinessChecker struct {
	conn client.Connection
}

// NewBackendReadinessChecker создаёт проверку готовности backend.
func NewBackendReadinessChecker(conn client.Connection) *BackendReadinessChecker {
	return &BackendReadinessChecker{conn: conn}
}

// CheckReady проверяет доступность репозитория. Таймаут задаёт вызывающий код.
func (c *BackendReadinessChecker) CheckReady(ctx context.Context) (status, message string) {
	if err := c.conn.ReadClient().CheckStatus(ctx); err != nil {
		return "fail", err.Error()
	}
	return "ok", "репозиторий доступен"
}

// Location возвращает расположение репозитория.
func (c *BackendReadinessChecker) Location() string {
	return c.conn.Location()
}
