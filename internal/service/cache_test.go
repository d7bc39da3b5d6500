package service

import (
	"testing"
	"time"

	"github.com/bigkaa/docvault/internal/domain/model"
)

// TestCacheService_GetSet проверяет базовые операции Get/Set.
func TestCacheService_GetSet(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)

	doc := mirrorDoc(testFP)

	// Cache miss
	_, ok := cache.Get(testFP)
	if ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	// Set + cache hit
	cache.Set(testFP, doc)
	got, ok := cache.Get(testFP)
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.Fingerprint != testFP {
		t.Errorf("Fingerprint = %q, ожидался %q", got.Fingerprint, testFP)
	}
	if got.DocumentType != model.DocTypeBirthCertificate {
		t.Errorf("DocumentType = %q", got.DocumentType)
	}
}

// TestCacheService_Delete проверяет инвалидацию при одобрении.
func TestCacheService_Delete(t *testing.T) {
	cache := NewCacheService(100, 5*time.Minute)

	cache.Set(testFP, mirrorDoc(testFP))
	cache.Delete(testFP)

	if _, ok := cache.Get(testFP); ok {
		t.Fatal("ожидался cache miss после Delete")
	}
}

// TestCacheService_TTL проверяет истечение записи по TTL.
func TestCacheService_TTL(t *testing.T) {
	cache := NewCacheService(100, 50*time.Millisecond)

	cache.Set(testFP, mirrorDoc(testFP))
	if _, ok := cache.Get(testFP); !ok {
		t.Fatal("ожидался cache hit до истечения TTL")
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := cache.Get(testFP); ok {
		t.Fatal("ожидался cache miss после истечения TTL")
	}
}
