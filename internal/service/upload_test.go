package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/docvault/internal/blobclient"
	"github.com/bigkaa/docvault/internal/config"
	"github.com/bigkaa/docvault/internal/domain/model"
	"github.com/bigkaa/docvault/internal/ledgerclient"
	"github.com/bigkaa/docvault/internal/precheckclient"
	"github.com/bigkaa/docvault/internal/repository"
)

// --- Mock-серверы внешних сервисов ---

// mockBlobServer — тестовый blob-сервер, запоминающий PUT/DELETE по ключам.
type mockBlobServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	objects map[string][]byte
	deletes []string
}

func newMockBlobServer() *mockBlobServer {
	b := &mockBlobServer{objects: map[string][]byte{}}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/api/v1/objects/")
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			b.objects[key] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			delete(b.objects, key)
			b.deletes = append(b.deletes, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	return b
}

func (b *mockBlobServer) object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

func (b *mockBlobServer) objectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (b *mockBlobServer) deleteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deletes)
}

// newMockLedgerServer создаёт тестовый ledger-сервер с заданным поведением.
func newMockLedgerServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// anchorOKHandler — ledger, успешно анкерующий любой документ,
// отвечающий на чтение состояния и принимающий записи журнала аудита.
func anchorOKHandler(txRef string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/v1/anchors" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"tx_ref":"` + txRef + `"}`))
			return
		}
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/anchors/") {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"exists":true,"verified":true,"owner":"citizen-1","tx_ref":"` + txRef + `"}`))
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/v1/audit" {
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

// newMockPrecheckServer создаёт тестовый precheck-сервер с фиксированным вердиктом.
func newMockPrecheckServer(verdictJSON string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verdictJSON))
	}))
}

const precheckPassedJSON = `{"passed":true,"confidence":0.95}`

// newTestUploadService создаёт UploadService с реальными клиентами на mock-серверах.
func newTestUploadService(
	t *testing.T,
	repo repository.DocumentRepository,
	ledgerSrv, blobSrv, precheckSrv *httptest.Server,
) *UploadService {
	t.Helper()

	logger := slog.Default()

	ledgerClient, err := ledgerclient.New(ledgerSrv.URL, "", 5*time.Second, logger)
	if err != nil {
		t.Fatalf("Ошибка создания ledgerclient: %v", err)
	}
	blobClient, err := blobclient.New(blobSrv.URL, "", 5*time.Second, logger)
	if err != nil {
		t.Fatalf("Ошибка создания blobclient: %v", err)
	}
	precheckClient, err := precheckclient.New(precheckSrv.URL, "", 5*time.Second, logger)
	if err != nil {
		t.Fatalf("Ошибка создания precheckclient: %v", err)
	}

	cfg := &config.Config{
		MaxFileSize:             1024 * 1024,
		PrecheckConfidenceFloor: 0.3,
		RequiredApprovals:       2,
		IPHashSalt:              "test-salt",
	}
	cache := NewCacheService(100, time.Minute)

	return NewUploadService(cfg, repo, ledgerClient, blobClient, precheckClient, cache, logger)
}

func testUploadParams(content string) UploadParams {
	return UploadParams{
		Reader:       strings.NewReader(content),
		Filename:     "birth.pdf",
		ContentType:  "application/pdf",
		Size:         int64(len(content)),
		DocumentType: "birth_certificate",
		Owner:        "citizen-1",
		ClientIP:     "198.51.100.7",
	}
}

// --- Тесты UploadService ---

// TestUpload_Success проверяет полный успешный проход саги.
func TestUpload_Success(t *testing.T) {
	content := "test document content"

	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-abc-1"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	var created bool
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, d *model.Document) error {
			created = true
			if d.TxRef != "tx-abc-1" {
				t.Errorf("TxRef = %q, ожидался tx-abc-1", d.TxRef)
			}
			if d.Agency != "births_deaths" {
				t.Errorf("Agency = %q, ожидалось births_deaths", d.Agency)
			}
			if d.RequiredApprovals != 2 {
				t.Errorf("RequiredApprovals = %d, ожидалось 2", d.RequiredApprovals)
			}
			if d.UploaderIPHash == "" || strings.Contains(d.UploaderIPHash, "198.51.100.7") {
				t.Errorf("UploaderIPHash = %q: ожидался хэш, а не открытый IP", d.UploaderIPHash)
			}
			if d.PrecheckPassed == nil || !*d.PrecheckPassed {
				t.Error("PrecheckPassed: вердикт precheck не сохранён в зеркале")
			}
			if d.PrecheckConfidence == nil || *d.PrecheckConfidence != 0.95 {
				t.Error("PrecheckConfidence: уверенность precheck не сохранена в зеркале")
			}
			return nil
		},
	}

	svc := newTestUploadService(t, repo, ledgerSrv, blobSrv.srv, precheckSrv)
	res, err := svc.Upload(context.Background(), testUploadParams(content))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if !created {
		t.Error("Запись зеркала не создана")
	}
	if res.EncryptionKey != "" {
		t.Errorf("EncryptionKey = %q, ожидалась пустая строка без шифрования", res.EncryptionKey)
	}
	if len(res.Document.Fingerprint) != FingerprintLen {
		t.Errorf("Fingerprint = %q: ожидалось %d hex-символов", res.Document.Fingerprint, FingerprintLen)
	}

	blobKey := "citizen-1/" + res.Document.Fingerprint + "/birth.pdf"
	stored, ok := blobSrv.object(blobKey)
	if !ok {
		t.Fatalf("Объект %s не записан в blob-хранилище", blobKey)
	}
	if string(stored) != content {
		t.Errorf("Содержимое blob = %q, ожидалось %q", stored, content)
	}
}

// TestUpload_Overrides проверяет параметры required_approvals и skip_precheck.
func TestUpload_Overrides(t *testing.T) {
	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-ovr-1"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("Precheck не должен вызываться при skip_precheck")
	}))
	defer precheckSrv.Close()

	var created *model.Document
	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, d *model.Document) error {
			created = d
			return nil
		},
	}

	svc := newTestUploadService(t, repo, ledgerSrv, blobSrv.srv, precheckSrv)
	params := testUploadParams("expedited document")
	zero := 0
	params.RequiredApprovals = &zero
	params.SkipPrecheck = true

	if _, err := svc.Upload(context.Background(), params); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if created == nil {
		t.Fatal("Запись зеркала не создана")
	}
	if created.RequiredApprovals != 0 {
		t.Errorf("RequiredApprovals = %d, ожидался 0", created.RequiredApprovals)
	}
	if created.PrecheckPassed != nil || created.PrecheckConfidence != nil {
		t.Error("Поля precheck должны оставаться NULL при пропуске проверки")
	}
	// Без этапа одобрения ledger верифицирует документ при анкеровке,
	// зеркало создаётся сразу с поднятым флагом.
	if !created.IsVerified {
		t.Error("IsVerified = false для документа без этапа одобрения")
	}
}

// TestUpload_Encrypted проверяет шифрование содержимого и одноразовую выдачу ключа.
func TestUpload_Encrypted(t *testing.T) {
	content := "secret document content"

	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-abc-2"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)

	params := testUploadParams(content)
	params.Encrypt = true
	res, err := svc.Upload(context.Background(), params)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if res.EncryptionKey == "" {
		t.Fatal("EncryptionKey не возвращён при шифровании")
	}
	if !res.Document.Encrypted {
		t.Error("Document.Encrypted = false")
	}

	blobKey := "citizen-1/" + res.Document.Fingerprint + "/birth.pdf"
	stored, ok := blobSrv.object(blobKey)
	if !ok {
		t.Fatalf("Объект %s не записан в blob-хранилище", blobKey)
	}
	if bytes.Contains(stored, []byte(content)) {
		t.Error("Blob содержит открытый текст при включённом шифровании")
	}

	plain, err := DecryptContent(stored, res.EncryptionKey)
	if err != nil {
		t.Fatalf("DecryptContent: %v", err)
	}
	if string(plain) != content {
		t.Errorf("Расшифрованное содержимое = %q, ожидалось %q", plain, content)
	}
}

// TestUpload_Validation проверяет отказы до начала саги.
func TestUpload_Validation(t *testing.T) {
	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-x"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)

	t.Run("неизвестный тип документа", func(t *testing.T) {
		params := testUploadParams("data")
		params.DocumentType = "shopping_list"
		_, err := svc.Upload(context.Background(), params)
		if !errors.Is(err, ErrInvalidDocumentType) {
			t.Errorf("err = %v, ожидался ErrInvalidDocumentType", err)
		}
	})

	t.Run("заявленный размер превышает максимум", func(t *testing.T) {
		params := testUploadParams("data")
		params.Size = 10 * 1024 * 1024
		_, err := svc.Upload(context.Background(), params)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("err = %v, ожидался ErrFileTooLarge", err)
		}
	})

	t.Run("фактический размер превышает максимум", func(t *testing.T) {
		params := testUploadParams(strings.Repeat("a", 1024*1024+1))
		params.Size = 100
		_, err := svc.Upload(context.Background(), params)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("err = %v, ожидался ErrFileTooLarge", err)
		}
	})
}

// TestUpload_PrecheckRejected проверяет отклонение при низкой уверенности
// и пропуск с предупреждением при высокой.
func TestUpload_PrecheckRejected(t *testing.T) {
	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-x"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()

	t.Run("низкая уверенность — отказ", func(t *testing.T) {
		precheckSrv := newMockPrecheckServer(`{"passed":false,"confidence":0.1,"issues":["повреждённая структура PDF"]}`)
		defer precheckSrv.Close()

		svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)
		_, err := svc.Upload(context.Background(), testUploadParams("bad content"))

		var pcErr *PrecheckError
		if !errors.As(err, &pcErr) {
			t.Fatalf("err = %v, ожидался *PrecheckError", err)
		}
		if pcErr.Confidence != 0.1 {
			t.Errorf("Confidence = %v, ожидалось 0.1", pcErr.Confidence)
		}
		if len(pcErr.Issues) != 1 {
			t.Errorf("Issues = %v, ожидалась одна запись", pcErr.Issues)
		}
	})

	t.Run("высокая уверенность — загрузка продолжается", func(t *testing.T) {
		precheckSrv := newMockPrecheckServer(`{"passed":false,"confidence":0.8,"warnings":["нестандартный шрифт"]}`)
		defer precheckSrv.Close()

		svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)
		if _, err := svc.Upload(context.Background(), testUploadParams("ok content")); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	})

	t.Run("precheck недоступен — загрузка продолжается", func(t *testing.T) {
		precheckSrv := newMockPrecheckServer(``)
		precheckSrv.Close() // сервер закрыт, Check вернёт ошибку соединения

		svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)
		if _, err := svc.Upload(context.Background(), testUploadParams("any content")); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	})
}

// TestUpload_Duplicate проверяет dedup по зеркалу до обращения к blob.
func TestUpload_Duplicate(t *testing.T) {
	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-x"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	repo := &mockDocumentRepo{
		existsFn: func(_ context.Context, _ string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestUploadService(t, repo, ledgerSrv, blobSrv.srv, precheckSrv)

	_, err := svc.Upload(context.Background(), testUploadParams("dup content"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, ожидался ErrDuplicate", err)
	}
	if blobSrv.objectCount() != 0 {
		t.Error("Blob записан несмотря на дубликат")
	}
}

// TestUpload_LedgerConflictRollsBackBlob проверяет компенсацию blob
// при конфликте анкеровки в ledger.
func TestUpload_LedgerConflictRollsBackBlob(t *testing.T) {
	ledgerSrv := newMockLedgerServer(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)

	_, err := svc.Upload(context.Background(), testUploadParams("raced content"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, ожидался ErrDuplicate", err)
	}
	if blobSrv.deleteCount() != 1 {
		t.Errorf("DELETE blob вызван %d раз, ожидался 1", blobSrv.deleteCount())
	}
	if blobSrv.objectCount() != 0 {
		t.Error("Blob-объект остался после компенсации")
	}
}

// TestUpload_AnchorTimeoutConfirmedByQuery проверяет восстановление после
// таймаута анкеровки: Query находит наш анкер, сага продолжается.
func TestUpload_AnchorTimeoutConfirmedByQuery(t *testing.T) {
	ledgerSrv := newMockLedgerServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// Анкеровка "зависает" дольше клиентского таймаута.
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"tx_ref":"tx-slow"}`))
			return
		}
		// Query подтверждает: анкер существует и принадлежит нам.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exists":true,"verified":false,"owner":"citizen-1","approval_count":0,"required_approvals":2,"tx_ref":"tx-slow"}`))
	})
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	svc := newTestUploadService(t, &mockDocumentRepo{}, ledgerSrv, blobSrv.srv, precheckSrv)
	// Короткий таймаут только для ledger-клиента.
	shortClient, err := ledgerclient.New(ledgerSrv.URL, "", 50*time.Millisecond, slog.Default())
	if err != nil {
		t.Fatalf("Ошибка создания ledgerclient: %v", err)
	}
	svc.ledger = shortClient

	res, err := svc.Upload(context.Background(), testUploadParams("slow ledger content"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Document.TxRef != "tx-slow" {
		t.Errorf("TxRef = %q, ожидался tx-slow из Query", res.Document.TxRef)
	}
}

// TestUpload_MirrorConflictRollsBackBlob проверяет компенсацию при
// конфликте записи зеркала (гонка двух загрузок одного файла).
func TestUpload_MirrorConflictRollsBackBlob(t *testing.T) {
	ledgerSrv := newMockLedgerServer(anchorOKHandler("tx-race"))
	defer ledgerSrv.Close()
	blobSrv := newMockBlobServer()
	defer blobSrv.srv.Close()
	precheckSrv := newMockPrecheckServer(precheckPassedJSON)
	defer precheckSrv.Close()

	repo := &mockDocumentRepo{
		createFn: func(_ context.Context, _ *model.Document) error {
			return repository.ErrConflict
		},
	}
	svc := newTestUploadService(t, repo, ledgerSrv, blobSrv.srv, precheckSrv)

	_, err := svc.Upload(context.Background(), testUploadParams("mirror race content"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, ожидался ErrDuplicate", err)
	}
	if blobSrv.deleteCount() != 1 {
		t.Errorf("DELETE blob вызван %d раз, ожидался 1", blobSrv.deleteCount())
	}
}
