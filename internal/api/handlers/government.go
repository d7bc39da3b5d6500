// government.go — правительственный контур: очередь одобрений, одобрение,
// панель ведомства, журнал аудита, сверка зеркала.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/api/middleware"
)

// ListPendingDocuments — GET /api/v1/government/pending.
// Доступ: роль officer. Возвращает очередь одобрений ведомства офицера.
func (h *APIHandler) ListPendingDocuments(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.Agency == "" {
		apierrors.Forbidden(w, "Отсутствует ведомство в токене офицера")
		return
	}

	limit, offset := paginationParams(r)
	page, err := h.documents.ListPending(r.Context(), claims.Agency, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list_pending")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// ApproveDocument — POST /api/v1/government/documents/{fingerprint}/approve.
// Доступ: роль officer, ведомство офицера должно совпадать с ведомством
// документа. Роль admin одобряет документы любого ведомства.
func (h *APIHandler) ApproveDocument(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}
	admin := claims.HasRole(middleware.RoleAdmin)
	if !admin && claims.Agency == "" {
		apierrors.Forbidden(w, "Отсутствует ведомство в токене офицера")
		return
	}

	fingerprint := chi.URLParam(r, "fingerprint")
	doc, err := h.approvals.Approve(r.Context(), fingerprint, claims.Subject, claims.Agency, clientIP(r), admin)
	if err != nil {
		h.writeServiceError(w, err, "approve")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// assignRequest — тело запроса переназначения классификации.
type assignRequest struct {
	DocumentType string `json:"document_type"`
}

// AssignDocument — POST /api/v1/government/documents/{fingerprint}/assign.
// Доступ: роли officer и admin. Переназначает тип документа и ведомство
// до начала цепочки одобрений.
func (h *APIHandler) AssignDocument(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}
	if req.DocumentType == "" {
		apierrors.ValidationError(w, "Отсутствует поле document_type")
		return
	}

	fingerprint := chi.URLParam(r, "fingerprint")
	doc, err := h.approvals.Assign(r.Context(), fingerprint, req.DocumentType)
	if err != nil {
		h.writeServiceError(w, err, "assign")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// dashboardResponse — ответ панели ведомства.
type dashboardResponse struct {
	Agency       string `json:"agency,omitempty"`
	PendingCount int    `json:"pending_count"`
	Registry     any    `json:"registry"`
}

// GovernmentDashboard — GET /api/v1/government/dashboard.
// Доступ: роли officer и admin. Статистика реестра плюс размер очереди
// одобрений ведомства офицера.
func (h *APIHandler) GovernmentDashboard(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "dashboard")
		return
	}

	resp := dashboardResponse{Registry: stats}
	if claims.Agency != "" {
		page, err := h.documents.ListPending(r.Context(), claims.Agency, 1, 0)
		if err != nil {
			h.writeServiceError(w, err, "dashboard")
			return
		}
		resp.Agency = claims.Agency
		resp.PendingCount = page.Total
	}

	writeJSON(w, http.StatusOK, resp)
}

// AuditLog — GET /api/v1/government/audit.
// Доступ: роли auditor и admin. Журнал аудита ledger, новые записи первыми.
func (h *APIHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	page, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "audit")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// RepairDocument — POST /api/v1/government/documents/{fingerprint}/repair.
// Доступ: роль admin. Приводит запись зеркала к состоянию ledger.
func (h *APIHandler) RepairDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	doc, err := h.approvals.Repair(r.Context(), fingerprint)
	if err != nil {
		h.writeServiceError(w, err, "repair")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}
