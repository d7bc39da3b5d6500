// verify.go — публичная верификация документа.
// Документ подлинен только при согласии обоих источников:
// анкер в ledger верифицирован И запись присутствует в зеркале.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/ledgerclient"
	"github.com/bigkaa/docvault/internal/repository"
)

// Prometheus-метрики верификации.
var verifyChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dv_verify_checks_total",
	Help: "Общее количество публичных проверок подлинности (по результату).",
}, []string{"result"})

// VerificationResult — результат проверки подлинности документа.
// Публичная проверка всегда возвращает вердикт с под-результатами обоих
// источников; отсутствие документа или их расхождение — не ошибка,
// а неверифицированный результат.
type VerificationResult struct {
	Fingerprint       string            `json:"fingerprint"`
	Verified          bool              `json:"verified"`
	LedgerExists      bool              `json:"ledger_exists"`
	LedgerVerified    bool              `json:"ledger_verified"`
	MirrorExists      bool              `json:"mirror_exists"`
	Mismatch          bool              `json:"mismatch"`
	ApprovalCount     int               `json:"approval_count"`
	RequiredApprovals int               `json:"required_approvals"`
	TxRef             string            `json:"tx_ref,omitempty"`
	Document          *model.PublicView `json:"document,omitempty"`
	CheckedAt         time.Time         `json:"checked_at"`
}

// VerifyService — публичная проверка подлинности документов.
// Зеркало читается напрямую, минуя LRU-кэш: решение о доверии всегда
// опирается на актуальное состояние обоих источников.
type VerifyService struct {
	repo   repository.DocumentRepository
	ledger *ledgerclient.Client
	logger *slog.Logger
}

// NewVerifyService создаёт сервис верификации.
func NewVerifyService(
	repo repository.DocumentRepository,
	ledger *ledgerclient.Client,
	logger *slog.Logger,
) *VerifyService {
	return &VerifyService{
		repo:   repo,
		ledger: ledger,
		logger: logger.With(slog.String("component", "verify_service")),
	}
}

// Verify проверяет подлинность документа по отпечатку.
//
// Документ подлинен тогда и только тогда, когда анкер ledger существует,
// верифицирован И запись присутствует в зеркале. Любой «ложный» под-результат
// даёт verified=false, а не ошибку: отсутствие документа, неполный набор
// одобрений и расхождение источников — штатные вердикты. Расхождение
// дополнительно помечается флагом Mismatch и устраняется через Repair.
//
// Ошибки возвращаются только при сбоях ввода-вывода: ErrLedger и ошибка
// чтения зеркала.
func (s *VerifyService) Verify(ctx context.Context, fingerprint string) (*VerificationResult, error) {
	if !ValidFingerprint(fingerprint) {
		// Некорректный отпечаток не может быть анкерован — вердикт
		// отрицательный без обращения к источникам.
		verifyChecksTotal.WithLabelValues("unverified").Inc()
		return &VerificationResult{Fingerprint: fingerprint, CheckedAt: time.Now().UTC()}, nil
	}

	state, err := s.ledger.Query(ctx, fingerprint)
	if err != nil {
		verifyChecksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}

	doc, err := s.repo.GetByFingerprint(ctx, fingerprint)
	mirrorExists := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		verifyChecksTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение зеркала: %w", err)
	}

	res := &VerificationResult{
		Fingerprint:       fingerprint,
		Verified:          state.Exists && state.Verified && mirrorExists,
		LedgerExists:      state.Exists,
		LedgerVerified:    state.Verified,
		MirrorExists:      mirrorExists,
		Mismatch:          state.Exists != mirrorExists,
		ApprovalCount:     state.ApprovalCount,
		RequiredApprovals: state.RequiredApprovals,
		TxRef:             state.TxRef,
		CheckedAt:         time.Now().UTC(),
	}
	if doc != nil {
		pub := doc.Public()
		res.Document = &pub
	}

	switch {
	case res.Mismatch:
		verifyChecksTotal.WithLabelValues("mismatch").Inc()
		s.logger.Warn("Расхождение ledger/зеркало",
			slog.String("fingerprint", fingerprint),
			slog.Bool("ledger_exists", state.Exists),
			slog.Bool("mirror_exists", mirrorExists),
		)
	case res.Verified:
		verifyChecksTotal.WithLabelValues("verified").Inc()
	default:
		verifyChecksTotal.WithLabelValues("unverified").Inc()
	}
	return res, nil
}

// VerifyFile проверяет подлинность по содержимому файла: вычисляет
// SHA-256 отпечаток потока и выполняет обычную проверку по отпечатку.
// Файл нигде не сохраняется.
func (s *VerifyService) VerifyFile(ctx context.Context, r io.Reader) (*VerificationResult, error) {
	fingerprint, _, err := Fingerprint(r)
	if err != nil {
		return nil, fmt.Errorf("вычисление отпечатка файла: %w", err)
	}
	return s.Verify(ctx, fingerprint)
}
