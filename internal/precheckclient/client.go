// Пакет precheckclient — HTTP-клиент сервиса предварительной проверки документов.
// Проверка принимает метаданные и фрагмент содержимого, возвращает вердикт
// с уровнем уверенности и списком замечаний.
package precheckclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// SampleLimit — максимальный размер фрагмента содержимого, отправляемого на проверку.
const SampleLimit = 64 * 1024

// Request — параметры предварительной проверки.
type Request struct {
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	DocumentType string `json:"document_type"`
	// Sample — первые байты файла (base64 через encoding/json).
	Sample []byte `json:"sample,omitempty"`
}

// Verdict — результат предварительной проверки.
type Verdict struct {
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Client — HTTP-клиент сервиса предварительной проверки.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт precheck-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата precheck: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат precheck добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "precheck_client")),
	}, nil
}

// Check выполняет предварительную проверку документа.
// Формат запроса: POST {baseURL}/api/v1/check
func (c *Client) Check(ctx context.Context, req Request) (*Verdict, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса Check: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/check", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Check: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G704: URL из конфигурации precheck
	if err != nil {
		return nil, fmt.Errorf("запрос Check к precheck: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("precheck вернул неожиданный статус %d", resp.StatusCode)
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("декодирование вердикта precheck: %w", err)
	}
	return &verdict, nil
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
