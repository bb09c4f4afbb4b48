// cache.go — LRU-кэш записей метаданных с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/fileshare/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_hits_total",
		Help: "Общее количество попаданий в кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_misses_total",
		Help: "Общее количество промахов кэша записей.",
	})
)

// RecordCache — in-memory кэш FileRecord по id.
// nil-кэш допустим: все методы становятся no-op.
type RecordCache struct {
	cache *expirable.LRU[string, model.FileRecord]
}

// NewRecordCache создаёт кэш. size <= 0 отключает кэширование (возвращает nil).
func NewRecordCache(size int, ttl time.Duration) *RecordCache {
	if size <= 0 {
		return nil
	}
	return &RecordCache{cache: expirable.NewLRU[string, model.FileRecord](size, nil, ttl)}
}

// Get возвращает копию записи из кэша.
func (c *RecordCache) Get(id string) (*model.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.cache.Get(id)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return &rec, true
}

// Set сохраняет копию записи.
func (c *RecordCache) Set(rec *model.FileRecord) {
	if c == nil || rec == nil {
		return
	}
	c.cache.Add(rec.ID, *rec)
}

// Remove инвалидирует запись.
func (c *RecordCache) Remove(id string) {
	if c == nil {
		return
	}
	c.cache.Remove(id)
}

// Len возвращает количество записей в кэше.
func (c *RecordCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
