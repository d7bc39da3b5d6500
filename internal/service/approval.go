// approval.go — многоступенчатое одобрение документов офицерами ведомств.
// Источник истины по одобрениям — ledger; зеркало догоняет его состояние.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/config"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/ledgerclient"
	"github.com/bigkaa/docvault/internal/repository"
)

// Prometheus-метрики одобрений.
var (
	approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_approvals_total",
		Help: "Общее количество операций одобрения (по статусу).",
	}, []string{"status"})

	verificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_verifications_total",
		Help: "Количество документов, достигших полной верификации.",
	})

	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_repairs_total",
		Help: "Количество операций сверки зеркала с ledger (по статусу).",
	}, []string{"status"})

	assignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_assignments_total",
		Help: "Количество переназначений классификации документов (по статусу).",
	}, []string{"status"})
)

// ApprovalService — одобрение документов и сверка зеркала с ledger.
type ApprovalService struct {
	cfg    *config.Config
	repo   repository.DocumentRepository
	ledger *ledgerclient.Client
	cache  *CacheService
	logger *slog.Logger
}

// NewApprovalService создаёт сервис одобрений.
func NewApprovalService(
	cfg *config.Config,
	repo repository.DocumentRepository,
	ledger *ledgerclient.Client,
	cache *CacheService,
	logger *slog.Logger,
) *ApprovalService {
	return &ApprovalService{
		cfg:    cfg,
		repo:   repo,
		ledger: ledger,
		cache:  cache,
		logger: logger.With(slog.String("component", "approval_service")),
	}
}

// Approve фиксирует одобрение офицера.
//
// Порядок строгий: сначала ledger (источник истины, сериализует конкурентные
// одобрения и отсекает повторные), затем зеркало. Офицер может одобрять
// только документы своего ведомства; admin снимает это ограничение.
//
// Ошибки: ErrNotFound, ErrForbidden, ErrAlreadyApproved, ErrLedger.
// При ErrLedger из-за неизвестного исхода повтор безопасен: повторное
// одобрение ledger отвергает как ErrAlreadyApproved.
func (s *ApprovalService) Approve(ctx context.Context, fingerprint, officer, officerAgency, clientIP string, admin bool) (*model.Document, error) {
	if !ValidFingerprint(fingerprint) {
		approvalsTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: некорректный отпечаток", ErrNotFound)
	}

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			approvalsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		approvalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение зеркала: %w", err)
	}

	if !admin && doc.Agency != officerAgency {
		approvalsTotal.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: документ закреплён за ведомством %s", ErrForbidden, doc.Agency)
	}

	// Быстрый путь: одобрение уже учтено зеркалом, в ledger не ходим.
	if slices.Contains(doc.Approvers, officer) {
		approvalsTotal.WithLabelValues("already_approved").Inc()
		return nil, fmt.Errorf("%w: офицер %s", ErrAlreadyApproved, officer)
	}

	// 1. Одобрение в ledger.
	res, err := s.ledger.Approve(ctx, fingerprint, officer, officerAgency)
	if err != nil {
		switch {
		case errors.Is(err, ledgerclient.ErrAlreadyApproved):
			approvalsTotal.WithLabelValues("already_approved").Inc()
			return nil, fmt.Errorf("%w: офицер %s", ErrAlreadyApproved, officer)
		case errors.Is(err, ledgerclient.ErrNotAnchored):
			approvalsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: документ не анкерован", ErrNotFound)
		case errors.Is(err, ledgerclient.ErrOutcomeUnknown):
			// Исход неизвестен: приводим зеркало к фактическому состоянию
			// ledger и просим повторить. Повтор идемпотентен.
			s.resync(ctx, fingerprint)
			approvalsTotal.WithLabelValues("outcome_unknown").Inc()
			return nil, fmt.Errorf("%w: исход одобрения неизвестен, повторите запрос", ErrLedger)
		default:
			approvalsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrLedger, err)
		}
	}

	// Журнал аудита — best-effort: одобрение уже зафиксировано в ledger.
	if aErr := s.ledger.LogAudit(context.WithoutCancel(ctx), fingerprint,
		ledgerclient.AuditActionApprove, officer, HashIP(clientIP, s.cfg.IPHashSalt)); aErr != nil {
		s.logger.Warn("Запись APPROVE не добавлена в журнал аудита",
			slog.String("fingerprint", fingerprint),
			slog.String("error", aErr.Error()),
		)
	}

	// 2. Зеркалим одобрение. Флаг верификации — из ответа ledger.
	updated, err := s.repo.AddApproval(ctx, fingerprint, officer, res.Verified)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyApproved) {
			// Зеркало уже содержит это одобрение (например, после Repair).
			updated, err = s.repo.GetByFingerprint(ctx, fingerprint)
		}
		if err != nil {
			// Ledger принял одобрение, зеркало отстало: выравниваем по
			// результату ledger, чтобы не потерять счётчик.
			s.logger.Error("Одобрение принято ledger, но не отражено в зеркале",
				slog.String("fingerprint", fingerprint),
				slog.String("officer", officer),
				slog.String("error", err.Error()),
			)
			if syncErr := s.repo.SyncLedgerState(ctx, fingerprint, res.ApprovalCount, res.Verified); syncErr != nil {
				s.logger.Error("Ошибка выравнивания зеркала",
					slog.String("fingerprint", fingerprint),
					slog.String("error", syncErr.Error()),
				)
			}
			updated, err = s.repo.GetByFingerprint(ctx, fingerprint)
			if err != nil {
				approvalsTotal.WithLabelValues("mirror_error").Inc()
				return nil, fmt.Errorf("чтение зеркала после одобрения: %w", err)
			}
		}
	}

	s.cache.Delete(fingerprint)

	approvalsTotal.WithLabelValues("success").Inc()
	if res.Verified {
		verificationsTotal.Inc()
	}

	s.logger.Info("Одобрение зафиксировано",
		slog.String("fingerprint", fingerprint),
		slog.String("officer", officer),
		slog.String("agency", officerAgency),
		slog.Int("approval_count", res.ApprovalCount),
		slog.Bool("verified", res.Verified),
	)

	return updated, nil
}

// Repair приводит запись зеркала к состоянию ledger.
// Административная операция: используется после сбоев зеркала
// (запись создана в ledger, но не отражена локально).
func (s *ApprovalService) Repair(ctx context.Context, fingerprint string) (*model.Document, error) {
	if !ValidFingerprint(fingerprint) {
		return nil, fmt.Errorf("%w: некорректный отпечаток", ErrNotFound)
	}

	state, err := s.ledger.Query(ctx, fingerprint)
	if err != nil {
		repairsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	if !state.Exists {
		repairsTotal.WithLabelValues("not_anchored").Inc()
		return nil, fmt.Errorf("%w: документ не анкерован в ledger", ErrNotFound)
	}

	if err := s.repo.SyncLedgerState(ctx, fingerprint, state.ApprovalCount, state.Verified); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			repairsTotal.WithLabelValues("no_mirror").Inc()
			return nil, fmt.Errorf("%w: запись зеркала отсутствует", ErrNotFound)
		}
		repairsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("выравнивание зеркала: %w", err)
	}

	s.cache.Delete(fingerprint)

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		repairsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение зеркала после сверки: %w", err)
	}

	repairsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Зеркало сверено с ledger",
		slog.String("fingerprint", fingerprint),
		slog.Int("approval_count", state.ApprovalCount),
		slog.Bool("verified", state.Verified),
	)
	return doc, nil
}

// Assign переназначает тип документа и, как следствие, ответственное
// ведомство. Используется офицерами для исправления классификации до
// начала цепочки одобрений: верифицированный документ или документ с
// зафиксированными одобрениями переклассификации не подлежит.
//
// Ошибки: ErrNotFound, ErrInvalidDocumentType, ErrForbidden.
func (s *ApprovalService) Assign(ctx context.Context, fingerprint, docType string) (*model.Document, error) {
	if !ValidFingerprint(fingerprint) {
		assignmentsTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: некорректный отпечаток", ErrNotFound)
	}
	if !model.ValidDocumentType(docType) {
		assignmentsTotal.WithLabelValues("invalid_type").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocumentType, docType)
	}

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			assignmentsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		assignmentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение зеркала: %w", err)
	}
	if doc.IsVerified || doc.ApprovalCount > 0 {
		assignmentsTotal.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: классификация документа с одобрениями не меняется", ErrForbidden)
	}

	agency := model.AgencyForDocType(docType)
	if err := s.repo.AssignClassification(ctx, fingerprint, docType, agency); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			assignmentsTotal.WithLabelValues("not_found").Inc()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fingerprint)
		}
		assignmentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("переназначение классификации: %w", err)
	}

	s.cache.Delete(fingerprint)

	doc, err = s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		assignmentsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение зеркала после переназначения: %w", err)
	}

	assignmentsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Классификация документа переназначена",
		slog.String("fingerprint", fingerprint),
		slog.String("document_type", docType),
		slog.String("agency", agency),
	)
	return doc, nil
}

// resync — best-effort выравнивание зеркала по ledger (после таймаутов).
func (s *ApprovalService) resync(ctx context.Context, fingerprint string) {
	state, err := s.ledger.Query(context.WithoutCancel(ctx), fingerprint)
	if err != nil || !state.Exists {
		return
	}
	if err := s.repo.SyncLedgerState(context.WithoutCancel(ctx), fingerprint, state.ApprovalCount, state.Verified); err != nil {
		s.logger.Warn("Ошибка выравнивания зеркала после таймаута",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
	}
	s.cache.Delete(fingerprint)
}
