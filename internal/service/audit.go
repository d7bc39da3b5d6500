// audit.go — чтение журнала аудита ledger.
// Журнал отдаётся в обратном хронологическом порядке; повреждённые
// записи пропускаются, не прерывая выдачу.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/ledgerclient"
)

// Лимиты постраничной выдачи журнала.
const (
	auditDefaultLimit = 50
	auditMaxLimit     = 500
)

// Prometheus-метрики аудита.
var auditCorruptEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dv_audit_corrupt_entries_total",
	Help: "Количество повреждённых записей журнала аудита, пропущенных при чтении.",
})

// AuditPage — страница журнала аудита.
type AuditPage struct {
	// Entries — записи в обратном хронологическом порядке
	Entries []*ledgerclient.AuditEntry `json:"entries"`
	// Total — общее количество записей журнала (включая повреждённые)
	Total int `json:"total"`
	// Skipped — количество повреждённых записей, пропущенных на этой странице
	Skipped int `json:"skipped"`
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
}

// AuditService — постраничное чтение журнала аудита ledger.
type AuditService struct {
	ledger *ledgerclient.Client
	logger *slog.Logger
}

// NewAuditService создаёт сервис чтения журнала аудита.
func NewAuditService(ledger *ledgerclient.Client, logger *slog.Logger) *AuditService {
	return &AuditService{
		ledger: ledger,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// List возвращает страницу журнала аудита, новые записи первыми.
//
// offset задаётся в индексах журнала (а не в читаемых записях), поэтому
// страницы стабильны даже при наличии повреждённых записей. Повреждённая
// запись пропускается с предупреждением в логе: страница может содержать
// меньше limit записей.
func (s *AuditService) List(ctx context.Context, limit, offset int) (*AuditPage, error) {
	if limit <= 0 {
		limit = auditDefaultLimit
	}
	if limit > auditMaxLimit {
		limit = auditMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.ledger.AuditCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}

	page := &AuditPage{
		Entries: []*ledgerclient.AuditEntry{},
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}

	// Журнал append-only: последний индекс — самая свежая запись.
	start := total - 1 - offset
	for i := start; i >= 0 && i > start-limit; i-- {
		entry, err := s.ledger.AuditEntryAt(ctx, i)
		if err != nil {
			if errors.Is(err, ledgerclient.ErrCorruptEntry) {
				auditCorruptEntriesTotal.Inc()
				page.Skipped++
				s.logger.Warn("Пропущена повреждённая запись журнала аудита",
					slog.Int("index", i),
				)
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrLedger, err)
		}
		page.Entries = append(page.Entries, entry)
	}

	return page, nil
}
