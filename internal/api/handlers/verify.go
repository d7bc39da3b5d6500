// verify.go — публичная проверка подлинности документа, без аутентификации.
// Проверка по отпечатку или по самому файлу (отпечаток вычисляется на месте).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
)

// verifyFileMaxMemory — лимит буферизации multipart-формы в памяти.
const verifyFileMaxMemory = 32 << 20

// VerifyDocument — GET /api/v1/verify/{fingerprint}.
// Доступ: публичный.
func (h *APIHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	result, err := h.verify.Verify(r.Context(), fingerprint)
	if err != nil {
		h.writeServiceError(w, err, "verify")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// VerifyFile — POST /api/v1/verify/file.
// Доступ: публичный. Принимает multipart/form-data с полем file,
// вычисляет отпечаток и выполняет обычную проверку. Файл не сохраняется.
func (h *APIHandler) VerifyFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(verifyFileMaxMemory); err != nil {
		apierrors.ValidationError(w, "Некорректная multipart-форма: "+err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле file")
		return
	}
	defer file.Close()

	result, err := h.verify.VerifyFile(r.Context(), file)
	if err != nil {
		h.writeServiceError(w, err, "verify_file")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
