// Package cache is the in-process TTL cache for decrypted chunk text, RAG
// answers and provider model lists.
package cache

import (
	"strings"
	"sync"
	"time"

	"openrecords-be/internal/config"
	"openrecords-be/internal/pkg/logger"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openrecords_cache_hits_total",
		Help: "Cache hits by key kind",
	}, []string{"kind"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openrecords_cache_misses_total",
		Help: "Cache misses by key kind",
	}, []string{"kind"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openrecords_cache_evictions_total",
		Help: "Entries removed from the cache by reason",
	}, []string{"reason"})
)

type entry struct {
	value     any
	expiresAt time.Time
}

type Layer struct {
	store  *gocache.Cache
	logger logger.ILogger
	now    func() time.Time

	// mu orders writes against expiry removal.
	mu      sync.Mutex
	cfg     config.CacheConfig
	enabled bool
	stop    chan struct{}
	done    chan struct{}
}

func New(log logger.ILogger) *Layer {
	return &Layer{
		// Expiry is tracked per entry; go-cache's own janitor stays off.
		store:  gocache.New(gocache.NoExpiration, 0),
		logger: log,
		now:    time.Now,
	}
}

// Init applies cfg and starts the sweep. Calling it again restarts the sweep.
func (l *Layer) Init(cfg config.CacheConfig) {
	l.Shutdown()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cfg = cfg
	l.enabled = cfg.Enabled
	if !l.enabled {
		l.logger.Info("Cache", "Cache disabled", nil)
		return
	}

	if cfg.SweepInterval > 0 {
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.sweepLoop(cfg.SweepInterval, l.stop, l.done)
	}

	l.logger.Info("Cache", "Cache initialised", map[string]interface{}{
		"sweep_interval": cfg.SweepInterval.String(),
		"answer_ttl":     cfg.AnswerTTL.String(),
	})
}

// Shutdown stops the sweep and drops every entry. The layer misses until
// Init is called again.
func (l *Layer) Shutdown() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.enabled = false
	l.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	l.store.Flush()
}

func (l *Layer) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *Layer) Get(key string) (any, bool) {
	kind := kindOf(key)
	if !l.Enabled() {
		cacheMisses.WithLabelValues(kind).Inc()
		return nil, false
	}

	raw, ok := l.store.Get(key)
	if !ok {
		cacheMisses.WithLabelValues(kind).Inc()
		return nil, false
	}

	e := raw.(*entry)
	if !l.now().Before(e.expiresAt) {
		l.removeIfSame(key, e, "expired")
		cacheMisses.WithLabelValues(kind).Inc()
		return nil, false
	}

	cacheHits.WithLabelValues(kind).Inc()
	return e.value, true
}

func (l *Layer) Put(key string, value any, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if ttl <= 0 {
		ttl = l.defaultTTL(kindOf(key))
	}
	l.store.Set(key, &entry{value: value, expiresAt: l.now().Add(ttl)}, gocache.NoExpiration)
}

func (l *Layer) Invalidate(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.store.Get(key); ok {
		l.store.Delete(key)
		cacheEvictions.WithLabelValues("invalidated").Inc()
	}
}

// InvalidatePrefix removes every key of the given kind whose scope starts
// with scopePrefix, e.g. all answers of one record.
func (l *Layer) InvalidatePrefix(kind, scopePrefix string) int {
	prefix := kind + ":" + scopePrefix

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key := range l.store.Items() {
		if strings.HasPrefix(key, prefix) {
			l.store.Delete(key)
			removed++
		}
	}
	if removed > 0 {
		cacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
	}
	return removed
}

// Sweep removes every expired entry and returns how many were dropped.
func (l *Layer) Sweep() int {
	now := l.now()
	removed := 0
	for key, item := range l.store.Items() {
		e, ok := item.Object.(*entry)
		if !ok || now.Before(e.expiresAt) {
			continue
		}
		if l.removeIfSame(key, e, "swept") {
			removed++
		}
	}
	return removed
}

func (l *Layer) Len() int {
	return l.store.ItemCount()
}

// removeIfSame deletes key only while it still holds e, so a value written
// after the expiry check survives.
func (l *Layer) removeIfSame(key string, e *entry, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.store.Get(key)
	if !ok || current.(*entry) != e {
		return false
	}
	l.store.Delete(key)
	cacheEvictions.WithLabelValues(reason).Inc()
	return true
}

func (l *Layer) defaultTTL(kind string) time.Duration {
	switch kind {
	case KindChunkText:
		if l.cfg.ChunkTextTTL > 0 {
			return l.cfg.ChunkTextTTL
		}
	case KindAnswer:
		if l.cfg.AnswerTTL > 0 {
			return l.cfg.AnswerTTL
		}
	case KindProviderModels:
		if l.cfg.ProviderListTTL > 0 {
			return l.cfg.ProviderListTTL
		}
	}
	if l.cfg.DefaultTTL > 0 {
		return l.cfg.DefaultTTL
	}
	return 10 * time.Minute
}

func (l *Layer) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Cache", "Swept expired entries", map[string]interface{}{"removed": n})
			}
		case <-stop:
			return
		}
	}
}
