// handler.go — основной обработчик API DocVault.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/service"
)

// APIHandler — основной обработчик API DocVault.
type APIHandler struct {
	health    *HealthHandler
	uploads   *service.UploadService
	approvals *service.ApprovalService
	verify    *service.VerifyService
	audit     *service.AuditService
	registry  *service.RegistryService
	documents *service.DocumentService
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	uploads *service.UploadService,
	approvals *service.ApprovalService,
	verify *service.VerifyService,
	audit *service.AuditService,
	registry *service.RegistryService,
	documents *service.DocumentService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		uploads:   uploads,
		approvals: approvals,
		verify:    verify,
		audit:     audit,
		registry:  registry,
		documents: documents,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
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

// paginationParams извлекает limit и offset из query-параметров.
// Некорректные значения заменяются нулями (сервисы подставляют свои значения).
func paginationParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	return limit, offset
}

// accessorFromContext строит service.Accessor из claims запроса.
func accessorFromContext(r *http.Request) service.Accessor {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return service.Accessor{}
	}
	return service.Accessor{
		Subject: claims.Subject,
		Agency:  claims.Agency,
		Officer: claims.HasRole(middleware.RoleOfficer),
		Admin:   claims.HasRole(middleware.RoleAdmin),
	}
}

// writeServiceError маппит ошибки сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var pcErr *service.PrecheckError

	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Документ не найден")
	case errors.Is(err, service.ErrDuplicate):
		apierrors.DuplicateDocument(w, "Документ с таким отпечатком уже зарегистрирован")
	case errors.Is(err, service.ErrAlreadyApproved):
		apierrors.AlreadyApproved(w, "Офицер уже одобрял этот документ")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Операция запрещена для этого субъекта")
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, "Файл превышает допустимый размер")
	case errors.Is(err, service.ErrInvalidDocumentType):
		apierrors.ValidationError(w, "Неизвестный тип документа")
	case errors.As(err, &pcErr):
		apierrors.PrecheckRejected(w, pcErr.Error())
	case errors.Is(err, service.ErrLedger):
		h.logger.Error("Сбой ledger", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.LedgerUnavailable(w, "Ledger временно недоступен")
	case errors.Is(err, service.ErrStorage):
		h.logger.Error("Сбой blob-хранилища", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.StorageUnavailable(w, "Хранилище временно недоступно")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
