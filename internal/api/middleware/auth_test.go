package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// testClaims — форма claims для генерации тестовых токенов.
type testClaims struct {
	jwt.RegisteredClaims
	RealmAccess map[string][]string `json:"realm_access,omitempty"`
	Agency      string              `json:"agency,omitempty"`
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Генерация RSA-ключа: %v", err)
	}
	return key
}

func generateTestToken(t *testing.T, key *rsa.PrivateKey, claims testClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("Подпись токена: %v", err)
	}
	return signed
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с RSA ключом для тестов.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("Создание keyfunc из JWKS JSON: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, 30*time.Second, logger)
}

func validOfficerClaims() testClaims {
	return testClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "officer-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		RealmAccess: map[string][]string{"roles": {RoleOfficer}},
		Agency:      "births_deaths",
	}
}

// TestJWTAuth_ValidToken проверяет валидный JWT и извлечение claims.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("Claims отсутствуют в контексте")
		}
		if claims.Subject != "officer-1" {
			t.Errorf("Subject = %q, ожидался officer-1", claims.Subject)
		}
		if !claims.HasRole(RoleOfficer) {
			t.Errorf("Роль officer не извлечена: %v", claims.Roles)
		}
		if claims.Agency != "births_deaths" {
			t.Errorf("Agency = %q, ожидалось births_deaths", claims.Agency)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, validOfficerClaims()))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_Rejections проверяет отказы аутентификации.
func TestJWTAuth_Rejections(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("Handler не должен быть вызван")
	}))

	expired := validOfficerClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	expired.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))

	otherKey := generateTestKey(t)

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса Bearer", "token123"},
		{"пустой токен", "Bearer "},
		{"просроченный токен", "Bearer " + generateTestToken(t, key, expired)},
		{"чужая подпись", "Bearer " + generateTestToken(t, otherKey, validOfficerClaims())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Статус = %d, ожидался 401", rec.Code)
			}
		})
	}
}

// TestRequireRole проверяет RBAC middleware.
func TestRequireRole(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	protected := auth.Middleware()(RequireRole(RoleOfficer, RoleAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	))

	tests := []struct {
		name       string
		roles      []string
		wantStatus int
	}{
		{"officer", []string{RoleOfficer}, http.StatusOK},
		{"admin", []string{RoleAdmin}, http.StatusOK},
		{"user", []string{RoleUser}, http.StatusForbidden},
		{"без ролей", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validOfficerClaims()
			claims.RealmAccess = map[string][]string{"roles": tt.roles}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/government/approve", nil)
			req.Header.Set("Authorization", "Bearer "+generateTestToken(t, key, claims))
			rec := httptest.NewRecorder()

			protected.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
