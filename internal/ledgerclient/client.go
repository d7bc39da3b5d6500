// Пакет ledgerclient — HTTP-клиент ledger-сервиса (анкеровка документов,
// одобрения, журнал аудита). Поддерживает TLS с кастомным CA (DV_CA_CERT_PATH).
//
// Ledger — источник истины по одобрениям и верификации. Таймаут мутирующего
// запроса не означает, что транзакция не прошла: такие ошибки оборачиваются
// в ErrOutcomeUnknown, и вызывающий код обязан перечитать состояние через Query.
package ledgerclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Ошибки ledger-клиента.
var (
	// ErrAlreadyAnchored — документ с таким отпечатком уже анкерован.
	ErrAlreadyAnchored = errors.New("документ уже анкерован в ledger")
	// ErrAlreadyApproved — офицер уже одобрял этот документ в ledger.
	ErrAlreadyApproved = errors.New("одобрение уже зафиксировано в ledger")
	// ErrNotAnchored — документ не найден в ledger.
	ErrNotAnchored = errors.New("документ не анкерован в ledger")
	// ErrOutcomeUnknown — исход мутирующей транзакции неизвестен (таймаут).
	// Вызывающий код обязан перечитать состояние через Query.
	ErrOutcomeUnknown = errors.New("исход транзакции ledger неизвестен")
	// ErrCorruptEntry — запись журнала аудита не декодируется.
	ErrCorruptEntry = errors.New("повреждённая запись журнала аудита")
)

// Client — HTTP-клиент ledger-сервиса.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт ledger-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов (из конфигурации DV_LEDGER_TIMEOUT).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата ledger: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат ledger добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "ledger_client")),
	}, nil
}

// AnchorRequest — параметры анкеровки документа.
type AnchorRequest struct {
	Fingerprint       string `json:"fingerprint"`
	Owner             string `json:"owner"`
	DocumentType      string `json:"document_type"`
	RequiredApprovals int    `json:"required_approvals"`
}

// AnchorResult — результат анкеровки.
type AnchorResult struct {
	TxRef string `json:"tx_ref"`
}

// Anchor анкерует отпечаток документа в ledger.
// Формат запроса: POST {baseURL}/api/v1/anchors
// 201 — успех, 409 — ErrAlreadyAnchored.
func (c *Client) Anchor(ctx context.Context, req AnchorRequest) (*AnchorResult, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/anchors", req,
		map[int]error{http.StatusConflict: ErrAlreadyAnchored},
		http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var result AnchorResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("декодирование ответа Anchor: %w", err)
	}
	if result.TxRef == "" {
		return nil, fmt.Errorf("ledger вернул пустой tx_ref")
	}
	return &result, nil
}

// approveRequest — тело запроса одобрения.
type approveRequest struct {
	Officer string `json:"officer"`
	Agency  string `json:"agency"`
}

// ApproveResult — состояние одобрений после фиксации.
type ApproveResult struct {
	ApprovalCount int  `json:"approval_count"`
	Verified      bool `json:"verified"`
}

// Approve фиксирует одобрение офицера в ledger.
// Формат запроса: POST {baseURL}/api/v1/anchors/{fingerprint}/approvals
// 200 — успех, 409 — ErrAlreadyApproved, 404 — ErrNotAnchored.
func (c *Client) Approve(ctx context.Context, fingerprint, officer, agency string) (*ApproveResult, error) {
	path := fmt.Sprintf("/api/v1/anchors/%s/approvals", fingerprint)
	body, err := c.doJSON(ctx, http.MethodPost, path,
		approveRequest{Officer: officer, Agency: agency},
		map[int]error{
			http.StatusConflict: ErrAlreadyApproved,
			http.StatusNotFound: ErrNotAnchored,
		},
		http.StatusOK)
	if err != nil {
		return nil, err
	}

	var result ApproveResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("декодирование ответа Approve: %w", err)
	}
	return &result, nil
}

// AnchorState — состояние анкеровки документа в ledger.
type AnchorState struct {
	Exists            bool   `json:"exists"`
	Verified          bool   `json:"verified"`
	Owner             string `json:"owner"`
	ApprovalCount     int    `json:"approval_count"`
	RequiredApprovals int    `json:"required_approvals"`
	TxRef             string `json:"tx_ref"`
}

// Query возвращает состояние анкеровки документа.
// 404 и недекодируемый ответ трактуются как Exists=false:
// сверка не должна падать из-за отдельной битой записи.
func (c *Client) Query(ctx context.Context, fingerprint string) (*AnchorState, error) {
	path := fmt.Sprintf("/api/v1/anchors/%s", fingerprint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Query: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации ledger
	if err != nil {
		return nil, fmt.Errorf("запрос Query к ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &AnchorState{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger вернул неожиданный статус %d", resp.StatusCode)
	}

	var state AnchorState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		c.logger.Warn("Недекодируемый ответ ledger при Query, считаем запись отсутствующей",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return &AnchorState{Exists: false}, nil
	}
	return &state, nil
}

// Действия журнала аудита.
const (
	AuditActionUpload  = "UPLOAD"
	AuditActionApprove = "APPROVE"
)

// AuditEntry — запись журнала аудита ledger.
// ActorIPHash — солёный хеш IP инициатора; сырой IP в журнал не попадает.
type AuditEntry struct {
	Index       int       `json:"index"`
	Fingerprint string    `json:"fingerprint"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	ActorIPHash string    `json:"actor_ip_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// logAuditRequest — тело записи журнала аудита.
type logAuditRequest struct {
	Fingerprint string `json:"fingerprint"`
	Action      string `json:"action"`
	Actor       string `json:"actor"`
	ActorIPHash string `json:"actor_ip_hash,omitempty"`
}

// LogAudit добавляет запись в журнал аудита ledger.
// Формат запроса: POST {baseURL}/api/v1/audit
// Запись best-effort: вызывающий код логирует сбой и продолжает работу,
// анкер и одобрения при этом не откатываются.
func (c *Client) LogAudit(ctx context.Context, fingerprint, action, actor, actorIPHash string) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/v1/audit",
		logAuditRequest{
			Fingerprint: fingerprint,
			Action:      action,
			Actor:       actor,
			ActorIPHash: actorIPHash,
		},
		nil,
		http.StatusCreated)
	return err
}

// AuditCount возвращает количество записей журнала аудита.
// Формат запроса: GET {baseURL}/api/v1/audit/count
func (c *Client) AuditCount(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/audit/count", http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("создание запроса AuditCount: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации ledger
	if err != nil {
		return 0, fmt.Errorf("запрос AuditCount к ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ledger вернул неожиданный статус %d", resp.StatusCode)
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("декодирование ответа AuditCount: %w", err)
	}
	return result.Count, nil
}

// AuditEntryAt возвращает запись журнала аудита по индексу.
// Недекодируемая запись — ErrCorruptEntry (вызывающий код пропускает такие записи).
func (c *Client) AuditEntryAt(ctx context.Context, index int) (*AuditEntry, error) {
	path := fmt.Sprintf("/api/v1/audit/%d", index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса AuditEntryAt: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации ledger
	if err != nil {
		return nil, fmt.Errorf("запрос AuditEntryAt к ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: индекс %d", ErrCorruptEntry, index)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger вернул неожиданный статус %d", resp.StatusCode)
	}

	var entry AuditEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("%w: индекс %d: %v", ErrCorruptEntry, index, err)
	}
	if entry.Fingerprint == "" || entry.Action == "" {
		return nil, fmt.Errorf("%w: индекс %d: отсутствуют обязательные поля", ErrCorruptEntry, index)
	}
	entry.Index = index
	return &entry, nil
}

// doJSON выполняет мутирующий JSON-запрос к ledger.
// statusErrors — маппинг статус-кодов на ошибки клиента.
// Таймауты оборачиваются в ErrOutcomeUnknown.
func (c *Client) doJSON(
	ctx context.Context,
	method, path string,
	payload any,
	statusErrors map[int]error,
	okStatus int,
) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации ledger
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
		}
		return nil, fmt.Errorf("запрос %s %s к ledger: %w", method, path, err)
	}
	defer resp.Body.Close()

	if mapped, ok := statusErrors[resp.StatusCode]; ok {
		return nil, mapped
	}
	if resp.StatusCode != okStatus {
		return nil, fmt.Errorf("ledger вернул неожиданный статус %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа ledger: %w", err)
	}
	return body, nil
}

// isTimeout проверяет, является ли ошибка таймаутом или отменой контекста.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// ReadinessChecker — проверка доступности ledger для health endpoint.
type ReadinessChecker struct {
	client *Client
}

// NewReadinessChecker создаёт checker доступности ledger.
func NewReadinessChecker(client *Client) *ReadinessChecker {
	return &ReadinessChecker{client: client}
}

// CheckReady проверяет доступность ledger через запрос количества записей аудита.
func (r *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := r.client.AuditCount(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("ledger недоступен: %v", err)
	}
	return "ok", fmt.Sprintf("ledger доступен, записей аудита: %d", count)
}
