// cache.go — LRU-кэш соответствия слот отпечатка → студент с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/attendtrack/attendance-server/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	fingerprintCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_fingerprint_cache_hits_total",
		Help: "Общее количество попаданий в кэш отпечатков.",
	})
	fingerprintCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_fingerprint_cache_misses_total",
		Help: "Общее количество промахов кэша отпечатков.",
	})
)

// FingerprintCache — кэш студентов по слоту отпечатка для пути сканирования.
// Кэшируются только найденные студенты; запись инвалидируется
// при каждом изменении отпечатка студента.
//
// Каждое удаление увеличивает поколение слота. Чтение из БД, начатое
// до удаления, не попадает в кэш (SetIfCurrent).
type FingerprintCache struct {
	cache *expirable.LRU[int, *model.Student]

	mu          sync.Mutex
	generations map[int]uint64
}

// NewFingerprintCache создаёт кэш с максимальным размером maxSize и TTL записи ttl.
func NewFingerprintCache(maxSize int, ttl time.Duration) *FingerprintCache {
	return &FingerprintCache{
		cache:       expirable.NewLRU[int, *model.Student](maxSize, nil, ttl),
		generations: make(map[int]uint64),
	}
}

// Get возвращает студента по слоту: (студент, true) при hit, (nil, false) при miss.
func (c *FingerprintCache) Get(fingerprintID int) (*model.Student, bool) {
	s, ok := c.cache.Get(fingerprintID)
	if ok {
		fingerprintCacheHitsTotal.Inc()
		return s, true
	}
	fingerprintCacheMissesTotal.Inc()
	return nil, false
}

// Generation возвращает текущее поколение слота.
// Снимается до чтения студента из БД и передаётся в SetIfCurrent.
func (c *FingerprintCache) Generation(fingerprintID int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[fingerprintID]
}

// SetIfCurrent добавляет запись, только если слот не инвалидировался
// после снятия поколения gen. Возвращает true, если запись добавлена.
func (c *FingerprintCache) SetIfCurrent(fingerprintID int, s *model.Student, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[fingerprintID] != gen {
		return false
	}
	c.cache.Add(fingerprintID, s)
	return true
}

// Delete удаляет запись слота и увеличивает его поколение.
func (c *FingerprintCache) Delete(fingerprintID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[fingerprintID]++
	c.cache.Remove(fingerprintID)
}

// Len возвращает количество записей.
func (c *FingerprintCache) Len() int {
	return c.cache.Len()
}
