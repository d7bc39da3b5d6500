// cache.go — LRU-кэш документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш документов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша документов.",
	})
)

// CacheService — LRU-кэш документов с автоматическим TTL.
// Каждый экземпляр сервиса имеет собственный in-memory кэш (per-instance).
type CacheService struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает документ из кэша по отпечатку.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(fingerprint string) (*model.Document, bool) {
	val, ok := c.cache.Get(fingerprint)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(fingerprint string, doc *model.Document) {
	c.cache.Add(fingerprint, doc)
}

// Delete удаляет запись из кэша (инвалидация при одобрении/компенсации).
func (c *CacheService) Delete(fingerprint string) {
	c.cache.Remove(fingerprint)
}
