// fingerprint.go — вычисление отпечатков содержимого и хеширование IP.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// FingerprintLen — длина отпечатка в hex-символах (SHA-256).
const FingerprintLen = 64

// Fingerprint вычисляет SHA-256 отпечаток содержимого (64 hex-символа, lowercase).
// Читает reader до конца; возвращает отпечаток и количество прочитанных байт.
func Fingerprint(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка чтения содержимого: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// FingerprintBytes вычисляет SHA-256 отпечаток среза байт.
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidFingerprint проверяет, что строка — корректный отпечаток (64 hex lowercase).
func ValidFingerprint(s string) bool {
	if len(s) != FingerprintLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HashIP возвращает солёный SHA-256 хеш IP-адреса.
// Сырой IP нигде не сохраняется и не логируется.
func HashIP(ip, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + ip))
	return hex.EncodeToString(sum[:])
}
