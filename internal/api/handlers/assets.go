// assets.go — обработчики загрузки ресурсов, чтения записи, смены состояния
// и перестроения кэша видимости.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/lars-uploader/internal/api/errors"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/service"
)

// uploadAttachment — вложение в запросе загрузки.
// Content — base64 в JSON; отсутствует у вложений-ссылок.
type uploadAttachment struct {
	Attachment model.Attachment `json:"attachment"`
	Content    []byte           `json:"content,omitempty"`
}

// uploadRequest — тело POST /api/v1/uploads.
type uploadRequest struct {
	Asset       *model.Asset       `json:"asset"`
	Attachments []uploadAttachment `json:"attachments"`
	Strategy    string             `json:"strategy,omitempty"`
	TargetState lifecycle.State    `json:"targetState,omitempty"`
	ReplaceID   string             `json:"replaceId,omitempty"`
	DeleteID    string             `json:"deleteId,omitempty"`
}

type uploadResponse struct {
	Asset      *model.Asset `json:"asset"`
	Strategy   string       `json:"strategy"`
	MatchedIDs []string     `json:"matchedIds"`
}

type stateRequest struct {
	TargetState lifecycle.State `json:"targetState"`
}

type stateResponse struct {
	Asset       *model.Asset                 `json:"asset"`
	Transitions []lifecycle.TransitionRecord `json:"transitions"`
}

type rebuildResponse struct {
	Entries int `json:"entries"`
}

// UploadAsset — POST /api/v1/uploads.
// Загружает ресурс с вложениями выбранной стратегией.
func (h *APIHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Тело запроса превышает %d байт", tooLarge.Limit))
			return
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Asset == nil {
		apierrors.ValidationError(w, "Запись ресурса (asset) обязательна")
		return
	}

	params := service.UploadParams{
		Asset:       req.Asset,
		Attachments: make([]service.AttachmentUpload, 0, len(req.Attachments)),
		Strategy:    req.Strategy,
		TargetState: req.TargetState,
		ReplaceID:   req.ReplaceID,
		DeleteID:    req.DeleteID,
	}
	for _, att := range req.Attachments {
		params.Attachments = append(params.Attachments, service.AttachmentUpload{
			Meta:    att.Attachment,
			Content: att.Content,
		})
	}

	result, err := h.uploads.Upload(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка загрузки ресурса")
		return
	}

	matched := result.MatchedIDs
	if matched == nil {
		matched = []string{}
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		Asset:      result.Asset,
		Strategy:   result.Strategy,
		MatchedIDs: matched,
	})
}

// GetAsset — GET /api/v1/assets/{id}.
func (h *APIHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.uploads.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка получения ресурса")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// MoveAssetState — PUT /api/v1/assets/{id}/state.
// Переводит ресурс в целевое состояние через промежуточные шаги.
func (h *APIHandler) MoveAssetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.TargetState == "" {
		apierrors.ValidationError(w, "Целевое состояние (targetState) обязательно")
		return
	}

	asset, history, err := h.uploads.MoveToState(r.Context(), chi.URLParam(r, "id"), req.TargetState)
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка смены состояния ресурса")
		return
	}
	if history == nil {
		history = []lifecycle.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, stateResponse{Asset: asset, Transitions: history})
}

// RebuildVisibilityCache — POST /api/v1/visibility-cache/rebuild.
func (h *APIHandler) RebuildVisibilityCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.uploads.RebuildVisibilityCache(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Ошибка перестроения кэша видимости")
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{Entries: n})
}
