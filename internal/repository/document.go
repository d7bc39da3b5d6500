package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docvault/internal/domain/model"
)

// DocumentRepository — интерфейс доступа к зеркальному реестру document_registry.
type DocumentRepository interface {
	// Create регистрирует новую запись документа в зеркале.
	Create(ctx context.Context, d *model.Document) error
	// GetByFingerprint возвращает документ по отпечатку.
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.Document, error)
	// Exists проверяет наличие документа с указанным отпечатком.
	Exists(ctx context.Context, fingerprint string) (bool, error)
	// ListByOwner возвращает документы владельца (новые первыми).
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*model.Document, error)
	// CountByOwner возвращает количество документов владельца.
	CountByOwner(ctx context.Context, owner string) (int, error)
	// ListPending возвращает неверифицированные документы ведомства.
	ListPending(ctx context.Context, agency string, limit, offset int) ([]*model.Document, error)
	// AddApproval идемпотентно фиксирует одобрение офицера в зеркале.
	// verified — состояние верификации по ответу ledger.
	// Повторное одобрение тем же офицером — ErrAlreadyApproved.
	AddApproval(ctx context.Context, fingerprint, approver string, verified bool) (*model.Document, error)
	// SyncLedgerState приводит состояние одобрений зеркала к состоянию ledger.
	SyncLedgerState(ctx context.Context, fingerprint string, approvalCount int, verified bool) error
	// AssignClassification переназначает тип документа и ответственное ведомство.
	AssignClassification(ctx context.Context, fingerprint, docType, agency string) error
	// Search возвращает документы по публичным фильтрам.
	Search(ctx context.Context, filters SearchFilters, limit, offset int) ([]*model.Document, error)
	// Count возвращает количество документов по фильтрам.
	Count(ctx context.Context, filters SearchFilters) (int, error)
	// Stats возвращает агрегированную статистику реестра.
	Stats(ctx context.Context) (*RegistryStats, error)
	// Delete удаляет запись документа (компенсация саги загрузки).
	Delete(ctx context.Context, fingerprint string) error
}

// SearchFilters — фильтры публичного поиска по реестру.
type SearchFilters struct {
	DocumentType *string
	Agency       *string
	Verified     *bool
	Owner        *string
}

// RegistryStats — агрегированная статистика реестра.
type RegistryStats struct {
	Total      int            `json:"total"`
	Verified   int            `json:"verified"`
	Pending    int            `json:"pending"`
	ByDocType  map[string]int `json:"by_document_type"`
	ByAgency   map[string]int `json:"by_agency"`
	TotalBytes int64          `json:"total_bytes"`
}

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий зеркального реестра документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

// documentColumns — список колонок для SELECT (порядок совпадает со scanDocument).
const documentColumns = `fingerprint, owner, filename, content_type, size, document_type,
		agency, description, blob_key, tx_ref, encrypted, precheck_passed,
		precheck_confidence, precheck_issues, approvers, approval_count,
		required_approvals, is_verified, uploader_ip_hash, created_at, updated_at`

// scanDocument сканирует одну строку в model.Document.
func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	err := row.Scan(
		&d.Fingerprint, &d.Owner, &d.Filename, &d.ContentType, &d.Size, &d.DocumentType,
		&d.Agency, &d.Description, &d.BlobKey, &d.TxRef, &d.Encrypted,
		&d.PrecheckPassed, &d.PrecheckConfidence, &d.PrecheckIssues, &d.Approvers,
		&d.ApprovalCount, &d.RequiredApprovals, &d.IsVerified, &d.UploaderIPHash,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) Create(ctx context.Context, d *model.Document) error {
	query := `
		INSERT INTO document_registry (fingerprint, owner, filename, content_type, size,
			document_type, agency, description, blob_key, tx_ref, encrypted,
			precheck_passed, precheck_confidence, precheck_issues, approvers,
			approval_count, required_approvals, is_verified, uploader_ip_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.Fingerprint, d.Owner, d.Filename, d.ContentType, d.Size,
		d.DocumentType, d.Agency, d.Description, d.BlobKey, d.TxRef, d.Encrypted,
		d.PrecheckPassed, d.PrecheckConfidence, d.PrecheckIssues, d.Approvers,
		d.ApprovalCount, d.RequiredApprovals, d.IsVerified, d.UploaderIPHash,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ с таким отпечатком уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка регистрации документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM document_registry WHERE fingerprint = $1`, documentColumns)

	d, err := scanDocument(r.db.QueryRow(ctx, query, fingerprint))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM document_registry WHERE fingerprint = $1)`,
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки наличия документа: %w", err)
	}
	return exists, nil
}

func (r *documentRepo) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*model.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM document_registry
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, documentColumns)

	return r.queryDocuments(ctx, query, owner, limit, offset)
}

func (r *documentRepo) CountByOwner(ctx context.Context, owner string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_registry WHERE owner = $1`, owner,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов владельца: %w", err)
	}
	return count, nil
}

func (r *documentRepo) ListPending(ctx context.Context, agency string, limit, offset int) ([]*model.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM document_registry
		WHERE agency = $1 AND NOT is_verified
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, documentColumns)

	return r.queryDocuments(ctx, query, agency, limit, offset)
}

// AddApproval идемпотентно фиксирует одобрение офицера.
// Условный UPDATE: строка меняется только если офицер ещё не одобрял.
// Флаг верификации берётся из ответа ledger, зеркало не выводит его из
// собственного счётчика; is_verified монотонна — однажды верифицированный
// документ остаётся верифицированным.
func (r *documentRepo) AddApproval(ctx context.Context, fingerprint, approver string, verified bool) (*model.Document, error) {
	query := fmt.Sprintf(`
		UPDATE document_registry
		SET approvers = array_append(approvers, $2),
			approval_count = approval_count + 1,
			is_verified = is_verified OR $3,
			updated_at = now()
		WHERE fingerprint = $1 AND NOT ($2 = ANY(approvers))
		RETURNING %s`, documentColumns)

	d, err := scanDocument(r.db.QueryRow(ctx, query, fingerprint, approver, verified))
	if err == nil {
		return d, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка фиксации одобрения: %w", err)
	}

	// Строка не изменилась: либо документа нет, либо офицер уже одобрял
	exists, exErr := r.Exists(ctx, fingerprint)
	if exErr != nil {
		return nil, exErr
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrAlreadyApproved
}

// SyncLedgerState приводит состояние одобрений зеркала к состоянию ledger.
// Используется при восстановлении после расхождения (Repair).
// is_verified монотонна: сбросить флаг нельзя.
func (r *documentRepo) SyncLedgerState(ctx context.Context, fingerprint string, approvalCount int, verified bool) error {
	query := `
		UPDATE document_registry
		SET approval_count = GREATEST(approval_count, $2),
			is_verified = is_verified OR $3,
			updated_at = now()
		WHERE fingerprint = $1`

	tag, err := r.db.Exec(ctx, query, fingerprint, approvalCount, verified)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации состояния с ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignClassification переназначает тип документа и ответственное ведомство.
// Ограничение «нет зафиксированных одобрений» проверяется сервисным слоем.
func (r *documentRepo) AssignClassification(ctx context.Context, fingerprint, docType, agency string) error {
	query := `
		UPDATE document_registry
		SET document_type = $2,
			agency = $3,
			updated_at = now()
		WHERE fingerprint = $1`

	tag, err := r.db.Exec(ctx, query, fingerprint, docType, agency)
	if err != nil {
		return fmt.Errorf("ошибка переназначения классификации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildSearchWhere строит WHERE-условие и аргументы для фильтрации документов.
func buildSearchWhere(filters SearchFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.DocumentType != nil {
		conditions = append(conditions, fmt.Sprintf("document_type = $%d", argNum))
		args = append(args, *filters.DocumentType)
		argNum++
	}
	if filters.Agency != nil {
		conditions = append(conditions, fmt.Sprintf("agency = $%d", argNum))
		args = append(args, *filters.Agency)
		argNum++
	}
	if filters.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("is_verified = $%d", argNum))
		args = append(args, *filters.Verified)
		argNum++
	}
	if filters.Owner != nil {
		conditions = append(conditions, fmt.Sprintf("owner = $%d", argNum))
		args = append(args, *filters.Owner)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *documentRepo) Search(ctx context.Context, filters SearchFilters, limit, offset int) ([]*model.Document, error) {
	where, args := buildSearchWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s FROM document_registry
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, documentColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)
	return r.queryDocuments(ctx, query, args...)
}

func (r *documentRepo) Count(ctx context.Context, filters SearchFilters) (int, error) {
	where, args := buildSearchWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM document_registry %s`, where)

	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}
	return count, nil
}

func (r *documentRepo) Stats(ctx context.Context) (*RegistryStats, error) {
	stats := &RegistryStats{
		ByDocType: make(map[string]int),
		ByAgency:  make(map[string]int),
	}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_verified),
			COUNT(*) FILTER (WHERE NOT is_verified),
			COALESCE(SUM(size), 0)
		FROM document_registry`,
	).Scan(&stats.Total, &stats.Verified, &stats.Pending, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT document_type, agency, COUNT(*)
		FROM document_registry
		GROUP BY document_type, agency`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта статистики по типам: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docType, agency string
		var count int
		if err := rows.Scan(&docType, &agency, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		stats.ByDocType[docType] += count
		stats.ByAgency[agency] += count
	}
	return stats, rows.Err()
}

func (r *documentRepo) Delete(ctx context.Context, fingerprint string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM document_registry WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// queryDocuments выполняет запрос и сканирует все строки в срез документов.
func (r *documentRepo) queryDocuments(ctx context.Context, query string, args ...any) ([]*model.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
