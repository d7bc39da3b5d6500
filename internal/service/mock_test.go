package service

import (
	"context"

	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
)

// mockDocumentRepo — мок DocumentRepository для unit-тестов.
// Незаданные функции возвращают нейтральные значения.
type mockDocumentRepo struct {
	createFn          func(ctx context.Context, d *model.Document) error
	getFn             func(ctx context.Context, fingerprint string) (*model.Document, error)
	existsFn          func(ctx context.Context, fingerprint string) (bool, error)
	listByOwnerFn     func(ctx context.Context, owner string, limit, offset int) ([]*model.Document, error)
	countByOwnerFn    func(ctx context.Context, owner string) (int, error)
	listPendingFn     func(ctx context.Context, agency string, limit, offset int) ([]*model.Document, error)
	addApprovalFn     func(ctx context.Context, fingerprint, approver string, verified bool) (*model.Document, error)
	syncLedgerStateFn func(ctx context.Context, fingerprint string, approvalCount int, verified bool) error
	assignFn          func(ctx context.Context, fingerprint, docType, agency string) error
	searchFn          func(ctx context.Context, filters repository.SearchFilters, limit, offset int) ([]*model.Document, error)
	countFn           func(ctx context.Context, filters repository.SearchFilters) (int, error)
	statsFn           func(ctx context.Context) (*repository.RegistryStats, error)
	deleteFn          func(ctx context.Context, fingerprint string) error
}

func (m *mockDocumentRepo) Create(ctx context.Context, d *model.Document) error {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return nil
}

func (m *mockDocumentRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, fingerprint)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocumentRepo) Exists(ctx context.Context, fingerprint string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, fingerprint)
	}
	return false, nil
}

func (m *mockDocumentRepo) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*model.Document, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, owner, limit, offset)
	}
	return nil, nil
}

func (m *mockDocumentRepo) CountByOwner(ctx context.Context, owner string) (int, error) {
	if m.countByOwnerFn != nil {
		return m.countByOwnerFn(ctx, owner)
	}
	return 0, nil
}

func (m *mockDocumentRepo) ListPending(ctx context.Context, agency string, limit, offset int) ([]*model.Document, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, agency, limit, offset)
	}
	return nil, nil
}

func (m *mockDocumentRepo) AddApproval(ctx context.Context, fingerprint, approver string, verified bool) (*model.Document, error) {
	if m.addApprovalFn != nil {
		return m.addApprovalFn(ctx, fingerprint, approver, verified)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDocumentRepo) SyncLedgerState(ctx context.Context, fingerprint string, approvalCount int, verified bool) error {
	if m.syncLedgerStateFn != nil {
		return m.syncLedgerStateFn(ctx, fingerprint, approvalCount, verified)
	}
	return nil
}

func (m *mockDocumentRepo) AssignClassification(ctx context.Context, fingerprint, docType, agency string) error {
	if m.assignFn != nil {
		return m.assignFn(ctx, fingerprint, docType, agency)
	}
	return nil
}

func (m *mockDocumentRepo) Search(ctx context.Context, filters repository.SearchFilters, limit, offset int) ([]*model.Document, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, filters, limit, offset)
	}
	return nil, nil
}

func (m *mockDocumentRepo) Count(ctx context.Context, filters repository.SearchFilters) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, filters)
	}
	return 0, nil
}

func (m *mockDocumentRepo) Stats(ctx context.Context) (*repository.RegistryStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &repository.RegistryStats{}, nil
}

func (m *mockDocumentRepo) Delete(ctx context.Context, fingerprint string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, fingerprint)
	}
	return nil
}
