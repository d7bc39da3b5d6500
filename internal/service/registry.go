// registry.go — публичный реестр: поиск и агрегированная статистика.
// Выдача строится из зеркала и содержит только публичную проекцию
// документов (без владельцев, ключей blob и хэшей IP).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
)

// Лимиты постраничной выдачи публичного поиска.
const (
	searchDefaultLimit = 50
	searchMaxLimit     = 200
)

// statsKey — единственный ключ кэша статистики.
const statsKey = "registry"

// SearchPage — страница результатов публичного поиска.
type SearchPage struct {
	Documents []model.PublicView `json:"documents"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// RegistryService — публичный поиск и статистика по реестру.
type RegistryService struct {
	repo       repository.DocumentRepository
	statsCache *expirable.LRU[string, *repository.RegistryStats]
	logger     *slog.Logger
}

// NewRegistryService создаёт сервис публичного реестра.
// statsTTL — время жизни кэша статистики (агрегаты по всей таблице).
func NewRegistryService(repo repository.DocumentRepository, statsTTL time.Duration, logger *slog.Logger) *RegistryService {
	return &RegistryService{
		repo:       repo,
		statsCache: expirable.NewLRU[string, *repository.RegistryStats](1, nil, statsTTL),
		logger:     logger.With(slog.String("component", "registry_service")),
	}
}

// Search возвращает страницу публичного реестра по фильтрам.
// Неизвестный тип документа в фильтре — ErrInvalidDocumentType.
func (s *RegistryService) Search(ctx context.Context, filters repository.SearchFilters, limit, offset int) (*SearchPage, error) {
	if limit <= 0 {
		limit = searchDefaultLimit
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	if filters.DocumentType != nil && !model.ValidDocumentType(*filters.DocumentType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocumentType, *filters.DocumentType)
	}

	docs, err := s.repo.Search(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("поиск по реестру: %w", err)
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("подсчёт результатов поиска: %w", err)
	}

	page := &SearchPage{
		Documents: make([]model.PublicView, 0, len(docs)),
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	}
	for _, d := range docs {
		page.Documents = append(page.Documents, d.Public())
	}
	return page, nil
}

// GetVerified возвращает публичную проекцию верифицированного документа.
// Неверифицированные документы через публичный реестр не выдаются —
// для запрашивающего они неотличимы от отсутствующих.
func (s *RegistryService) GetVerified(ctx context.Context, fingerprint string) (*model.PublicView, error) {
	if !ValidFingerprint(fingerprint) {
		return nil, fmt.Errorf("%w: некорректный отпечаток", ErrNotFound)
	}

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		return nil, fmt.Errorf("чтение реестра: %w", err)
	}
	if !doc.IsVerified {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
	}

	pub := doc.Public()
	return &pub, nil
}

// Stats возвращает агрегированную статистику реестра.
// Агрегаты считаются по всей таблице, поэтому результат кэшируется.
func (s *RegistryService) Stats(ctx context.Context) (*repository.RegistryStats, error) {
	if stats, ok := s.statsCache.Get(statsKey); ok {
		return stats, nil
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("статистика реестра: %w", err)
	}
	s.statsCache.Add(statsKey, stats)
	return stats, nil
}
