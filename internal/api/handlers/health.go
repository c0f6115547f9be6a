// health.go — состояние LARS Uploader для оркестратора и мониторинга.
//
//	/health/live  — процесс жив
//	/health/ready — репозиторий ресурсов доступен; в ответе расположение
//	                репозитория и состояние кэша видимости
//	/metrics      — Prometheus
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/lars-uploader/internal/config"
)

// serviceName — имя сервиса в ответах health endpoints.
const serviceName = "lars-uploader"

// readyTimeout ограничивает проверку репозитория в /health/ready.
const readyTimeout = 5 * time.Second

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка доступности репозитория ресурсов.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady(ctx context.Context) (status, message string)
	// Location возвращает расположение репозитория (путь, URL, DSN без пароля).
	Location() string
}

// VisibilityStats — сведения о кэше видимости vanity URL.
// Реализуется strategy.VisibilityCache.
type VisibilityStats interface {
	Populated() bool
	Len() int
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	repository  ReadinessChecker
	visibility  VisibilityStats
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// repository == nil — readiness вернёт "fail"; visibility может быть nil.
func NewHealthHandler(repository ReadinessChecker, visibility VisibilityStats) *HealthHandler {
	return &HealthHandler{
		repository:  repository,
		visibility:  visibility,
		promHandler: promhttp.Handler(),
	}
}

type repositoryCheck struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Location string `json:"location,omitempty"`
}

// visibilityCacheState не влияет на итоговый статус: кэш заполняется
// при первой загрузке add_then_hide_old.
type visibilityCacheState struct {
	Populated bool `json:"populated"`
	Entries   int  `json:"entries"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	healthLiveResponse
	Repository      repositoryCheck       `json:"repository"`
	VisibilityCache *visibilityCacheState `json:"visibilityCache,omitempty"`
}

func newLiveResponse(status string) healthLiveResponse {
	return healthLiveResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

// HealthLive — проверка, что процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newLiveResponse(statusOK))
}

// HealthReady — проверка готовности: 200 при ok/degraded, 503 при fail.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{Repository: h.checkRepository(r.Context())}
	resp.healthLiveResponse = newLiveResponse(overallStatus(resp.Repository.Status))

	if h.visibility != nil {
		resp.VisibilityCache = &visibilityCacheState{
			Populated: h.visibility.Populated(),
			Entries:   h.visibility.Len(),
		}
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) checkRepository(ctx context.Context) repositoryCheck {
	if h.repository == nil {
		return repositoryCheck{Status: statusFail, Message: "репозиторий не подключён"}
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	status, msg := h.repository.CheckReady(ctx)
	return repositoryCheck{Status: status, Message: msg, Location: h.repository.Location()}
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: fail, если есть хотя бы один fail; degraded, если есть degraded; иначе ok.
func overallStatus(statuses ...string) string {
	result := statusOK
	for _, s := range statuses {
		switch s {
		case statusFail:
			return statusFail
		case statusDegraded:
			result = statusDegraded
		}
	}
	return result
}
