package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/docvault/internal/blobclient"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/repository"
)

func newTestDocumentService(t *testing.T, repo repository.DocumentRepository, blobSrv *httptest.Server) *DocumentService {
	t.Helper()
	blobClient, err := blobclient.New(blobSrv.URL, "", 5*time.Second, slog.Default())
	if err != nil {
		t.Fatalf("Ошибка создания blobclient: %v", err)
	}
	return NewDocumentService(repo, blobClient, NewCacheService(100, time.Minute), slog.Default())
}

// TestGet_Authorization проверяет матрицу доступа к документу.
func TestGet_Authorization(t *testing.T) {
	repo := &mockDocumentRepo{
		getFn: func(_ context.Context, fp string) (*model.Document, error) {
			return mirrorDoc(fp), nil
		},
	}
	blobSrv := httptest.NewServer(http.NotFoundHandler())
	defer blobSrv.Close()
	svc := newTestDocumentService(t, repo, blobSrv)

	tests := []struct {
		name    string
		acc     Accessor
		allowed bool
	}{
		{"владелец", Accessor{Subject: "citizen-1"}, true},
		{"чужой пользователь", Accessor{Subject: "citizen-2"}, false},
		{"админ", Accessor{Subject: "root", Admin: true}, true},
		{"офицер своего ведомства", Accessor{Subject: "officer-1", Officer: true, Agency: model.AgencyBirthsDeaths}, true},
		{"офицер чужого ведомства", Accessor{Subject: "officer-2", Officer: true, Agency: model.AgencyCourts}, false},
		{"анонимный субъект", Accessor{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Get(context.Background(), testFP, tt.acc)
			if tt.allowed && err != nil {
				t.Errorf("Get: %v, ожидался доступ", err)
			}
			if !tt.allowed && !errors.Is(err, ErrForbidden) {
				t.Errorf("err = %v, ожидался ErrForbidden", err)
			}
		})
	}
}

// TestDownload_Success проверяет streaming proxy содержимого.
func TestDownload_Success(t *testing.T) {
	content := "document body"
	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Errorf("Неожиданный заголовок Range: %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "13")
		_, _ = w.Write([]byte(content))
	}))
	defer blobSrv.Close()

	repo := &mockDocumentRepo{
		getFn: func(_ context.Context, fp string) (*model.Document, error) {
			d := mirrorDoc(fp)
			d.BlobKey = "citizen-1/" + fp + "/birth.pdf"
			return d, nil
		},
	}

	svc := newTestDocumentService(t, repo, blobSrv)
	res, err := svc.Download(context.Background(), testFP, Accessor{Subject: "citizen-1"}, "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Чтение потока: %v", err)
	}
	if string(body) != content {
		t.Errorf("body = %q, ожидалось %q", body, content)
	}
	if res.ContentType != "application/pdf" || res.Filename != "birth.pdf" {
		t.Errorf("ContentType = %q, Filename = %q", res.ContentType, res.Filename)
	}
}

// TestDownload_RangePassthrough проверяет проброс HTTP Range.
func TestDownload_RangePassthrough(t *testing.T) {
	blobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-4" {
			t.Errorf("Range = %q, ожидался bytes=0-4", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 0-4/13")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("docum"))
	}))
	defer blobSrv.Close()

	repo := &mockDocumentRepo{
		getFn: func(_ context.Context, fp string) (*model.Document, error) {
			return mirrorDoc(fp), nil
		},
	}

	svc := newTestDocumentService(t, repo, blobSrv)
	res, err := svc.Download(context.Background(), testFP, Accessor{Subject: "citizen-1"}, "bytes=0-4")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusPartialContent {
		t.Errorf("StatusCode = %d, ожидался 206", res.StatusCode)
	}
	if res.ContentRange != "bytes 0-4/13" {
		t.Errorf("ContentRange = %q", res.ContentRange)
	}
}

// TestDownload_MissingBlob: запись зеркала есть, объекта в хранилище нет.
func TestDownload_MissingBlob(t *testing.T) {
	blobSrv := httptest.NewServer(http.NotFoundHandler())
	defer blobSrv.Close()

	repo := &mockDocumentRepo{
		getFn: func(_ context.Context, fp string) (*model.Document, error) {
			return mirrorDoc(fp), nil
		},
	}

	svc := newTestDocumentService(t, repo, blobSrv)
	_, err := svc.Download(context.Background(), testFP, Accessor{Subject: "citizen-1"}, "")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, ожидался ErrStorage", err)
	}
}

// TestListOwned проверяет постраничный список владельца.
func TestListOwned(t *testing.T) {
	repo := &mockDocumentRepo{
		listByOwnerFn: func(_ context.Context, owner string, limit, offset int) ([]*model.Document, error) {
			if owner != "citizen-1" {
				t.Errorf("owner = %q", owner)
			}
			if limit != searchDefaultLimit || offset != 0 {
				t.Errorf("limit = %d, offset = %d; ожидались значения по умолчанию", limit, offset)
			}
			return []*model.Document{mirrorDoc(testFP)}, nil
		},
		countByOwnerFn: func(_ context.Context, _ string) (int, error) {
			return 1, nil
		},
	}

	blobSrv := httptest.NewServer(http.NotFoundHandler())
	defer blobSrv.Close()

	svc := newTestDocumentService(t, repo, blobSrv)
	page, err := svc.ListOwned(context.Background(), "citizen-1", 0, -1)
	if err != nil {
		t.Fatalf("ListOwned: %v", err)
	}
	if page.Total != 1 || len(page.Documents) != 1 {
		t.Errorf("Total = %d, len(Documents) = %d", page.Total, len(page.Documents))
	}
}

// TestListPending проверяет очередь одобрений ведомства.
func TestListPending(t *testing.T) {
	repo := &mockDocumentRepo{
		listPendingFn: func(_ context.Context, agency string, _, _ int) ([]*model.Document, error) {
			if agency != model.AgencyBirthsDeaths {
				t.Errorf("agency = %q", agency)
			}
			return []*model.Document{mirrorDoc(testFP)}, nil
		},
		countFn: func(_ context.Context, filters repository.SearchFilters) (int, error) {
			if filters.Agency == nil || *filters.Agency != model.AgencyBirthsDeaths {
				t.Error("Фильтр agency не задан")
			}
			if filters.Verified == nil || *filters.Verified {
				t.Error("Фильтр verified=false не задан")
			}
			return 1, nil
		},
	}

	blobSrv := httptest.NewServer(http.NotFoundHandler())
	defer blobSrv.Close()

	svc := newTestDocumentService(t, repo, blobSrv)
	page, err := svc.ListPending(context.Background(), model.AgencyBirthsDeaths, 10, 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total = %d", page.Total)
	}
}
