// documents.go — личный кабинет владельца и доступ к содержимому.
// Скачивание — streaming proxy из blob-хранилища без буферизации,
// с поддержкой HTTP Range.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/blobclient"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
)

// Prometheus-метрики скачивания.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})
)

// Accessor — субъект, выполняющий операцию над документом.
type Accessor struct {
	// Subject — идентификатор субъекта (sub из JWT)
	Subject string
	// Agency — ведомство офицера (claim agency)
	Agency string
	// Officer — субъект имеет роль officer
	Officer bool
	// Admin — субъект имеет роль admin
	Admin bool
}

// DocumentPage — страница списка документов.
type DocumentPage struct {
	Documents []*model.Document `json:"documents"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// DownloadResult — поток содержимого документа.
// Body обязан быть закрыт вызывающим кодом.
type DownloadResult struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentType   string
	ContentLength string
	ContentRange  string
	AcceptRanges  string
	Filename      string
	Encrypted     bool
}

// DocumentService — списки документов и streaming download.
type DocumentService struct {
	repo   repository.DocumentRepository
	blob   *blobclient.Client
	cache  *CacheService
	logger *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(
	repo repository.DocumentRepository,
	blob *blobclient.Client,
	cache *CacheService,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		repo:   repo,
		blob:   blob,
		cache:  cache,
		logger: logger.With(slog.String("component", "document_service")),
	}
}

// ListOwned возвращает документы владельца, новые первыми.
func (s *DocumentService) ListOwned(ctx context.Context, owner string, limit, offset int) (*DocumentPage, error) {
	limit, offset = clampPage(limit, offset)

	docs, err := s.repo.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("список документов владельца: %w", err)
	}
	total, err := s.repo.CountByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("подсчёт документов владельца: %w", err)
	}
	return &DocumentPage{Documents: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// ListPending возвращает неверифицированные документы ведомства
// (очередь одобрений офицера).
func (s *DocumentService) ListPending(ctx context.Context, agency string, limit, offset int) (*DocumentPage, error) {
	limit, offset = clampPage(limit, offset)

	docs, err := s.repo.ListPending(ctx, agency, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("очередь одобрений ведомства: %w", err)
	}
	verified := false
	total, err := s.repo.Count(ctx, repository.SearchFilters{Agency: &agency, Verified: &verified})
	if err != nil {
		return nil, fmt.Errorf("подсчёт очереди одобрений: %w", err)
	}
	return &DocumentPage{Documents: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// Get возвращает документ с проверкой прав доступа.
// Доступ имеют: владелец, админ, офицер ведомства документа.
func (s *DocumentService) Get(ctx context.Context, fingerprint string, acc Accessor) (*model.Document, error) {
	if !ValidFingerprint(fingerprint) {
		return nil, fmt.Errorf("%w: некорректный отпечаток", ErrNotFound)
	}

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		return nil, fmt.Errorf("чтение зеркала: %w", err)
	}
	if err := authorize(doc, acc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Download открывает поток содержимого документа из blob-хранилища.
// rangeHeader прокидывается в blob-хранилище как есть (HTTP Range).
func (s *DocumentService) Download(ctx context.Context, fingerprint string, acc Accessor, rangeHeader string) (*DownloadResult, error) {
	doc, err := s.Get(ctx, fingerprint, acc)
	if err != nil {
		downloadsTotal.WithLabelValues("denied").Inc()
		return nil, err
	}

	resp, err := s.blob.Get(ctx, doc.BlobKey, rangeHeader)
	if err != nil {
		if errors.Is(err, blobclient.ErrNotFound) {
			// Запись зеркала есть, объекта нет: расхождение хранилищ.
			downloadsTotal.WithLabelValues("missing_blob").Inc()
			s.logger.Error("Blob-объект отсутствует для записи зеркала",
				slog.String("fingerprint", fingerprint),
				slog.String("blob_key", doc.BlobKey),
			)
			return nil, fmt.Errorf("%w: содержимое отсутствует в хранилище", ErrStorage)
		}
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	downloadsTotal.WithLabelValues("success").Inc()
	return &DownloadResult{
		Body:          &countingBody{rc: resp.Body},
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		ContentRange:  resp.Header.Get("Content-Range"),
		AcceptRanges:  resp.Header.Get("Accept-Ranges"),
		Filename:      doc.Filename,
		Encrypted:     doc.Encrypted,
	}, nil
}

// authorize проверяет права субъекта на документ.
func authorize(doc *model.Document, acc Accessor) error {
	switch {
	case acc.Subject != "" && acc.Subject == doc.Owner:
		return nil
	case acc.Admin:
		return nil
	case acc.Officer && acc.Agency == doc.Agency:
		return nil
	}
	return fmt.Errorf("%w: документ принадлежит другому владельцу", ErrForbidden)
}

// clampPage нормализует параметры постраничной выдачи.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = searchDefaultLimit
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// countingBody учитывает переданные байты в метрике download.
type countingBody struct {
	rc io.ReadCloser
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	downloadBytesTotal.Add(float64(n))
	return n, err
}

func (b *countingBody) Close() error {
	return b.rc.Close()
}
