// documents.go — личный кабинет владельца: список, карточка, скачивание.
// GET /api/v1/documents, GET /api/v1/documents/{fingerprint},
// GET /api/v1/documents/{fingerprint}/download.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/api/middleware"
)

// ListDocuments — GET /api/v1/documents.
// Доступ: аутентифицированный субъект, только собственные документы.
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект запроса")
		return
	}

	limit, offset := paginationParams(r)
	page, err := h.documents.ListOwned(r.Context(), subject, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list_documents")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetDocument — GET /api/v1/documents/{fingerprint}.
// Доступ: владелец, админ, офицер ведомства документа.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	doc, err := h.documents.Get(r.Context(), fingerprint, accessorFromContext(r))
	if err != nil {
		h.writeServiceError(w, err, "get_document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DownloadDocument — GET /api/v1/documents/{fingerprint}/download.
// Streaming proxy содержимого из blob-хранилища с поддержкой HTTP Range.
// Зашифрованное содержимое отдаётся как есть: расшифровка — на стороне
// клиента, ключ известен только ему.
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	result, err := h.documents.Download(r.Context(), fingerprint, accessorFromContext(r), r.Header.Get("Range"))
	if err != nil {
		h.writeServiceError(w, err, "download_document")
		return
	}
	defer result.Body.Close()

	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	if result.ContentLength != "" {
		w.Header().Set("Content-Length", result.ContentLength)
	}
	if result.ContentRange != "" {
		w.Header().Set("Content-Range", result.ContentRange)
	}
	if result.AcceptRanges != "" {
		w.Header().Set("Accept-Ranges", result.AcceptRanges)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	if result.Encrypted {
		w.Header().Set("X-Content-Encrypted", "true")
	}

	w.WriteHeader(result.StatusCode)

	// Streaming: содержимое не буферизуется в памяти.
	buf := make([]byte, 32*1024)
	for {
		n, readErr := result.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Клиент оборвал соединение.
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}
