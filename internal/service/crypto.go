// crypto.go — опциональное шифрование документов перед сохранением.
// AES-256-GCM со случайным ключом на каждую загрузку. Ключ возвращается
// владельцу один раз; сервис его не хранит и не логирует.
package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// EncryptContent шифрует содержимое документа случайным ключом AES-256-GCM.
// Возвращает шифртекст (nonce prepended) и hex-ключ для владельца.
func EncryptContent(plaintext []byte) (ciphertext []byte, keyHex string, err error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, "", fmt.Errorf("ошибка генерации ключа: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, "", fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("ошибка создания GCM: %w", err)
	}

	// Генерируем уникальный nonce для каждого шифрования
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext = gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, hex.EncodeToString(key), nil
}

// DecryptContent дешифрует содержимое документа ключом владельца.
func DecryptContent(ciphertext []byte, keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, errors.New("некорректный ключ: ожидается 64 hex-символа")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("дешифрование не удалось: неверный ключ или повреждённые данные")
	}
	return plaintext, nil
}
