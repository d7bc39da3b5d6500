// registry.go — публичный реестр: GET /api/v1/registry/search и /stats.
// Без аутентификации; выдача содержит только публичную проекцию документов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/docvault/internal/repository"
)

// SearchRegistry — GET /api/v1/registry/search.
// Доступ: публичный.
//
// Query-параметры: document_type, agency, verified (true/false), limit, offset.
func (h *APIHandler) SearchRegistry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filters repository.SearchFilters
	if v := q.Get("document_type"); v != "" {
		filters.DocumentType = &v
	}
	if v := q.Get("agency"); v != "" {
		filters.Agency = &v
	}
	if v := q.Get("verified"); v != "" {
		verified := v == "true"
		filters.Verified = &verified
	}

	limit, offset := paginationParams(r)
	page, err := h.registry.Search(r.Context(), filters, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "registry_search")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetRegistryDocument — GET /api/v1/registry/documents/{fingerprint}.
// Доступ: публичный. Выдаёт только верифицированные документы.
func (h *APIHandler) GetRegistryDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	doc, err := h.registry.GetVerified(r.Context(), fingerprint)
	if err != nil {
		h.writeServiceError(w, err, "registry_get")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// RegistryStats — GET /api/v1/registry/stats.
// Доступ: публичный.
func (h *APIHandler) RegistryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "registry_stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
