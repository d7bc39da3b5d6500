// upload.go — обработчик POST /api/v1/documents.
// Загрузка документа: multipart/form-data с полем file и параметрами.
package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/docvault/internal/api/errors"
	"github.com/bigkaa/docvault/internal/api/middleware"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/service"
)

// uploadResponse — ответ на успешную загрузку.
type uploadResponse struct {
	Document model.PublicView `json:"document"`
	TxRef    string           `json:"tx_ref"`
	BlobKey  string           `json:"blob_key"`
	// EncryptionKey — hex-ключ шифрования. Выдаётся ровно один раз,
	// сервис его не хранит. Отсутствует, если документ не шифровался.
	EncryptionKey string `json:"encryption_key,omitempty"`
}

// UploadDocument — POST /api/v1/documents.
// Доступ: любой аутентифицированный субъект (владелец — sub из JWT).
//
// Multipart поля:
//   - file — содержимое документа (обязательно)
//   - document_type — тип документа (обязательно)
//   - description — описание (опционально)
//   - encrypt — "true" для шифрования содержимого (опционально)
//   - required_approvals — число одобрений для этого документа, >= 0 (опционально)
//   - skip_precheck — "true" пропускает precheck, только для роли admin (опционально)
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект запроса")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32 MB buffer
		apierrors.ValidationError(w, "Ошибка парсинга multipart: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	docType := r.FormValue("document_type")
	if docType == "" {
		apierrors.ValidationError(w, "Поле 'document_type' обязательно")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var requiredApprovals *int
	if raw := r.FormValue("required_approvals"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "Поле 'required_approvals' должно быть целым числом >= 0")
			return
		}
		requiredApprovals = &n
	}

	skipPrecheck := false
	if r.FormValue("skip_precheck") == "true" {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil || !claims.HasRole(middleware.RoleAdmin) {
			apierrors.Forbidden(w, "Пропуск precheck доступен только администраторам")
			return
		}
		skipPrecheck = true
	}

	result, err := h.uploads.Upload(r.Context(), service.UploadParams{
		Reader:            file,
		Filename:          header.Filename,
		ContentType:       contentType,
		Size:              header.Size,
		DocumentType:      docType,
		Description:       r.FormValue("description"),
		Owner:             subject,
		ClientIP:          clientIP(r),
		Encrypt:           r.FormValue("encrypt") == "true",
		RequiredApprovals: requiredApprovals,
		SkipPrecheck:      skipPrecheck,
	})
	if err != nil {
		h.writeServiceError(w, err, "upload")
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Document:      result.Document.Public(),
		TxRef:         result.Document.TxRef,
		BlobKey:       result.Document.BlobKey,
		EncryptionKey: result.EncryptionKey,
	})
}

// clientIP извлекает IP клиента из X-Forwarded-For или RemoteAddr.
// Адрес используется только для вычисления солёного хэша.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
