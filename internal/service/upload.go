// upload.go — сага загрузки документа.
// Полный pipeline: precheck → fingerprint → dedup → blob → ledger anchor → зеркало.
// При ошибке на любом шаге выполняется компенсация уже выполненных шагов.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/blobclient"
	"github.com/bigkaa/docvault/internal/config"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/ledgerclient"
	"github.com/bigkaa/docvault/internal/precheckclient"
	"github.com/bigkaa/docvault/internal/repository"
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_upload_duration_seconds",
		Help:    "Длительность саги загрузки (от precheck до записи в зеркало).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_upload_bytes_total",
		Help: "Общее количество принятых байт при загрузке.",
	})

	sagaRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_saga_rollbacks_total",
		Help: "Количество компенсаций саги загрузки (по шагу, на котором произошёл сбой).",
	}, []string{"step"})
)

// UploadParams — параметры загрузки документа.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — оригинальное имя файла
	Filename string
	// ContentType — MIME-тип файла
	ContentType string
	// Size — размер файла (из Content-Length multipart part)
	Size int64
	// DocumentType — тип документа (birth_certificate, land_title, ...)
	DocumentType string
	// Description — описание документа (опционально)
	Description string
	// Owner — идентификатор владельца (sub из JWT)
	Owner string
	// ClientIP — IP-адрес клиента (хэшируется с солью, в открытом виде не хранится)
	ClientIP string
	// Encrypt — шифровать ли содержимое перед записью в blob-хранилище
	Encrypt bool
	// RequiredApprovals — требуемое число одобрений для этого документа.
	// nil — берётся значение из конфигурации. 0 — без этапа одобрения.
	RequiredApprovals *int
	// SkipPrecheck — пропустить precheck. Разрешено только администраторам,
	// проверка роли выполняется на уровне HTTP-обработчика.
	SkipPrecheck bool
}

// UploadResult — результат загрузки документа.
type UploadResult struct {
	Document *model.Document
	// EncryptionKey — hex-ключ шифрования. Возвращается клиенту ровно один раз,
	// сервис его не сохраняет. Пустая строка — документ не шифровался.
	EncryptionKey string
}

// UploadService — сага загрузки документов.
type UploadService struct {
	cfg      *config.Config
	repo     repository.DocumentRepository
	ledger   *ledgerclient.Client
	blob     *blobclient.Client
	precheck *precheckclient.Client
	cache    *CacheService
	logger   *slog.Logger
}

// NewUploadService создаёт сервис загрузки документов.
func NewUploadService(
	cfg *config.Config,
	repo repository.DocumentRepository,
	ledger *ledgerclient.Client,
	blob *blobclient.Client,
	precheck *precheckclient.Client,
	cache *CacheService,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:      cfg,
		repo:     repo,
		ledger:   ledger,
		blob:     blob,
		precheck: precheck,
		cache:    cache,
		logger:   logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет сагу загрузки документа.
//
// Поток:
//  1. Валидация типа документа и размера
//  2. Чтение содержимого, проверка фактического размера
//  3. Precheck (отклонение только при !passed с низкой уверенностью)
//  4. Fingerprint (SHA-256 содержимого)
//  5. Dedup по зеркалу
//  6. Опциональное шифрование (AES-256-GCM, ключ не сохраняется)
//  7. Запись в blob-хранилище
//  8. Анкеровка в ledger (источник истины)
//  9. Запись в зеркало document_registry
//
// Компенсация: при сбое после шага 7 удаляется blob-объект,
// после шага 9 — дополнительно запись зеркала. Анкер ledger не
// компенсируется: успешная анкеровка означает успешную загрузку,
// дальнейшие сбои зеркала чинятся через Repair.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	start := time.Now()

	// 1. Валидация типа документа и заявленного размера
	if !model.ValidDocumentType(params.DocumentType) {
		uploadsTotal.WithLabelValues("invalid_type").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocumentType, params.DocumentType)
	}
	if params.Size > s.cfg.MaxFileSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %d байт при максимуме %d", ErrFileTooLarge, params.Size, s.cfg.MaxFileSize)
	}

	// 2. Читаем содержимое. LimitReader на байт больше максимума —
	// ловим файлы, у которых фактический размер превышает заявленный.
	content, err := io.ReadAll(io.LimitReader(params.Reader, s.cfg.MaxFileSize+1))
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение содержимого файла: %w", err)
	}
	if int64(len(content)) > s.cfg.MaxFileSize {
		uploadsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: фактический размер превышает максимум %d", ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	size := int64(len(content))

	// Требуемое число одобрений: параметр загрузки или значение из конфигурации.
	// 0 — документ регистрируется без этапа одобрения.
	requiredApprovals := s.cfg.RequiredApprovals
	if params.RequiredApprovals != nil {
		requiredApprovals = *params.RequiredApprovals
	}

	// 3. Precheck: первые SampleLimit байт содержимого.
	var verdict *precheckclient.Verdict
	if params.SkipPrecheck {
		s.logger.Info("Precheck пропущен по запросу администратора",
			slog.String("filename", params.Filename),
		)
	} else {
		sample := content
		if len(sample) > precheckclient.SampleLimit {
			sample = sample[:precheckclient.SampleLimit]
		}
		v, err := s.precheck.Check(ctx, precheckclient.Request{
			Filename:     params.Filename,
			ContentType:  params.ContentType,
			Size:         size,
			DocumentType: params.DocumentType,
			Sample:       sample,
		})
		if err != nil {
			// Недоступность precheck не блокирует загрузку: документ всё равно
			// пройдёт многоступенчатое одобрение офицерами.
			s.logger.Warn("Precheck недоступен, загрузка продолжается",
				slog.String("filename", params.Filename),
				slog.String("error", err.Error()),
			)
		} else {
			verdict = v
			if !v.Passed {
				if v.Confidence < s.cfg.PrecheckConfidenceFloor {
					uploadsTotal.WithLabelValues("precheck_rejected").Inc()
					return nil, &PrecheckError{Confidence: v.Confidence, Issues: v.Issues}
				}
				// Непройденная проверка с высокой уверенностью — предупреждение, не отказ.
				s.logger.Warn("Precheck не пройден, но уверенность выше порога",
					slog.String("filename", params.Filename),
					slog.Float64("confidence", v.Confidence),
				)
			}
		}
	}

	// 4. Fingerprint
	fingerprint := FingerprintBytes(content)

	// 5. Dedup: отпечаток — первичный ключ реестра.
	exists, err := s.repo.Exists(ctx, fingerprint)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("проверка дубликата: %w", err)
	}
	if exists {
		uploadsTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, fingerprint)
	}

	// 6. Опциональное шифрование
	payload := content
	keyHex := ""
	if params.Encrypt {
		payload, keyHex, err = EncryptContent(content)
		if err != nil {
			uploadsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("шифрование содержимого: %w", err)
		}
	}

	blobKey := fmt.Sprintf("%s/%s/%s", params.Owner, fingerprint, params.Filename)

	// Компенсация: выполненные шаги откатываются в обратном порядке.
	blobStored := false
	mirrorCreated := false
	rollback := func(step string) {
		sagaRollbacksTotal.WithLabelValues(step).Inc()
		if mirrorCreated {
			if rbErr := s.repo.Delete(context.WithoutCancel(ctx), fingerprint); rbErr != nil {
				s.logger.Error("Ошибка компенсации зеркала",
					slog.String("fingerprint", fingerprint),
					slog.String("error", rbErr.Error()),
				)
			}
		}
		if blobStored {
			if rbErr := s.blob.Delete(context.WithoutCancel(ctx), blobKey); rbErr != nil {
				s.logger.Error("Ошибка компенсации blob-объекта",
					slog.String("blob_key", blobKey),
					slog.String("error", rbErr.Error()),
				)
			}
		}
	}

	// 7. Запись в blob-хранилище
	if err := s.blob.Put(ctx, blobKey, bytes.NewReader(payload), int64(len(payload)), params.ContentType); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка записи в blob-хранилище",
			slog.String("blob_key", blobKey),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	blobStored = true

	// 8. Анкеровка в ledger — источник истины по факту регистрации.
	txRef, anchorVerified, err := s.anchor(ctx, fingerprint, params.Owner, params.DocumentType, requiredApprovals)
	if err != nil {
		rollback("anchor")
		if errors.Is(err, ErrDuplicate) {
			uploadsTotal.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// Журнал аудита — best-effort: анкер уже зафиксирован, сбой записи
	// аудита сагу не откатывает.
	ipHash := HashIP(params.ClientIP, s.cfg.IPHashSalt)
	if aErr := s.ledger.LogAudit(context.WithoutCancel(ctx),
		fingerprint, ledgerclient.AuditActionUpload, params.Owner, ipHash); aErr != nil {
		s.logger.Warn("Запись UPLOAD не добавлена в журнал аудита",
			slog.String("fingerprint", fingerprint),
			slog.String("error", aErr.Error()),
		)
	}

	// 9. Запись в зеркало
	now := time.Now().UTC()
	doc := &model.Document{
		Fingerprint:       fingerprint,
		Owner:             params.Owner,
		Filename:          params.Filename,
		ContentType:       params.ContentType,
		Size:              size,
		DocumentType:      params.DocumentType,
		Agency:            model.AgencyForDocType(params.DocumentType),
		BlobKey:           blobKey,
		TxRef:             txRef,
		Encrypted:         params.Encrypt,
		Approvers:         []string{},
		ApprovalCount:     0,
		RequiredApprovals: requiredApprovals,
		IsVerified:        anchorVerified,
		UploaderIPHash:    ipHash,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if params.Description != "" {
		doc.Description = &params.Description
	}
	if verdict != nil {
		doc.PrecheckPassed = &verdict.Passed
		doc.PrecheckConfidence = &verdict.Confidence
		doc.PrecheckIssues = verdict.Issues
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			rollback("mirror")
			uploadsTotal.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, fingerprint)
		}
		// Анкер уже в ledger: blob и анкер не трогаем, зеркало
		// достраивается оператором через Repair.
		uploadsTotal.WithLabelValues("mirror_error").Inc()
		s.logger.Error("Документ анкерован, но запись зеркала не создана",
			slog.String("fingerprint", fingerprint),
			slog.String("tx_ref", txRef),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("запись зеркала после анкеровки: %w", err)
	}
	mirrorCreated = true

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(size))
	uploadDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("Документ загружен",
		slog.String("fingerprint", fingerprint),
		slog.String("owner", params.Owner),
		slog.String("document_type", params.DocumentType),
		slog.String("tx_ref", txRef),
		slog.Int64("size", size),
		slog.Bool("encrypted", params.Encrypt),
	)

	return &UploadResult{Document: doc, EncryptionKey: keyHex}, nil
}

// anchor выполняет анкеровку в ledger с обработкой неизвестного исхода.
// При таймауте мутирующего вызова состояние перечитывается через Query:
// если анкер появился и принадлежит нашему владельцу — сага продолжается.
//
// Второй результат — состояние верификации по ledger на момент анкеровки:
// при requiredApprovals == 0 ledger верифицирует документ сразу, и зеркало
// обязано создаться уже с поднятым флагом (одобрений не будет).
func (s *UploadService) anchor(ctx context.Context, fingerprint, owner, docType string, requiredApprovals int) (string, bool, error) {
	res, err := s.ledger.Anchor(ctx, ledgerclient.AnchorRequest{
		Fingerprint:       fingerprint,
		Owner:             owner,
		DocumentType:      docType,
		RequiredApprovals: requiredApprovals,
	})
	if err == nil {
		return res.TxRef, s.anchorVerified(ctx, fingerprint, requiredApprovals), nil
	}
	if errors.Is(err, ledgerclient.ErrAlreadyAnchored) {
		return "", false, fmt.Errorf("%w: %s", ErrDuplicate, fingerprint)
	}
	if errors.Is(err, ledgerclient.ErrOutcomeUnknown) {
		state, qErr := s.ledger.Query(ctx, fingerprint)
		if qErr == nil && state.Exists && state.Owner == owner {
			s.logger.Warn("Анкеровка подтверждена повторным чтением после таймаута",
				slog.String("fingerprint", fingerprint),
				slog.String("tx_ref", state.TxRef),
			)
			return state.TxRef, state.Verified, nil
		}
	}
	s.logger.Error("Ошибка анкеровки в ledger",
		slog.String("fingerprint", fingerprint),
		slog.String("error", err.Error()),
	)
	return "", false, fmt.Errorf("%w: %v", ErrLedger, err)
}

// anchorVerified перечитывает состояние верификации после анкеровки.
// Читаем только для документов без этапа одобрения: для остальных флаг
// поднимется по ходу одобрений. При сбое чтения флаг остаётся опущенным,
// расхождение устраняется через Repair.
func (s *UploadService) anchorVerified(ctx context.Context, fingerprint string, requiredApprovals int) bool {
	if requiredApprovals > 0 {
		return false
	}
	state, err := s.ledger.Query(ctx, fingerprint)
	if err != nil || !state.Exists {
		s.logger.Warn("Состояние верификации после анкеровки не прочитано",
			slog.String("fingerprint", fingerprint),
		)
		return false
	}
	return state.Verified
}
