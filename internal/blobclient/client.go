// Пакет blobclient — HTTP-клиент blob-хранилища документов.
// Поддерживает TLS с кастомным CA (DV_CA_CERT_PATH), streaming upload/download.
// Ключ объекта: owner/fingerprint/filename.
package blobclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrNotFound — объект не найден в blob-хранилище.
var ErrNotFound = errors.New("объект не найден в blob-хранилище")

// Client — HTTP-клиент blob-хранилища.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт blob-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов (из конфигурации DV_BLOB_TIMEOUT).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата blob-хранилища: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат blob-хранилища добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "blob_client")),
	}, nil
}

// objectURL формирует URL объекта. Сегменты ключа экранируются по отдельности,
// чтобы слэши структуры owner/fingerprint/filename сохранились в пути.
func (c *Client) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.baseURL + "/api/v1/objects/" + strings.Join(segments, "/")
}

// Put сохраняет объект в blob-хранилище (streaming).
// size — размер содержимого (Content-Length), contentType — MIME-тип.
func (c *Client) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key), reader)
	if err != nil {
		return fmt.Errorf("создание запроса Put: %w", err)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации blob
	if err != nil {
		return fmt.Errorf("запрос Put к blob-хранилищу: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("blob-хранилище вернуло неожиданный статус %d", resp.StatusCode)
	}
	return nil
}

// Get выполняет streaming-загрузку объекта из blob-хранилища.
// Возвращает *http.Response — вызывающий код ОБЯЗАН закрыть resp.Body.
// rangeHeader — значение заголовка Range от клиента (пустая строка — без Range).
func (c *Client) Get(ctx context.Context, key, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(key), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Get: %w", err)
	}

	// Пробрасываем Range header от клиента
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации blob
	if err != nil {
		return nil, fmt.Errorf("запрос Get к blob-хранилищу: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}

	// Не закрываем resp.Body — вызывающий код отвечает за это (streaming)
	return resp, nil
}

// Delete удаляет объект из blob-хранилища.
// Отсутствующий объект не считается ошибкой (идемпотентность компенсации).
func (c *Client) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(key), http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса Delete: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации blob
	if err != nil {
		return fmt.Errorf("запрос Delete к blob-хранилищу: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("blob-хранилище вернуло неожиданный статус %d", resp.StatusCode)
	}
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
