// handler.go — основной обработчик API LARS Uploader.
// Объединяет health и бизнес-обработчики, отображает ошибки сервисного слоя на HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/lars-uploader/internal/api/errors"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/version"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
	"github.com/bigkaa/goartstore/lars-uploader/internal/service"
)

// APIHandler — основной обработчик API LARS Uploader.
type APIHandler struct {
	health         *HealthHandler
	uploads        *service.UploadService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadBytes — лимит тела запроса загрузки (0 — без лимита).
func NewAPIHandler(
	health *HealthHandler,
	uploads *service.UploadService,
	maxUploadBytes int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:         health,
		uploads:        uploads,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — проверка, что процесс жив.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — проверка готовности.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя на HTTP-ответ.
// fallback — сообщение для 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var te *lifecycle.TransitionError
	var be *client.BackendError

	switch {
	case client.IsNotFound(err):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, client.ErrReadOnly):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrUnknownStrategy),
		errors.Is(err, resource.ErrValidation),
		errors.Is(err, version.ErrBadVersion):
		apierrors.ValidationError(w, err.Error())
	case errors.As(err, &te):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, resource.ErrConsistency):
		apierrors.Consistency(w, err.Error())
	case errors.Is(err, resource.ErrUpdate):
		apierrors.Conflict(w, err.Error())
	case errors.As(err, &be):
		h.logger.Error(fallback,
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.BackendUnavailable(w, err.Error())
	default:
		h.logger.Error(fallback,
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, fallback)
	}
}
