package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fetchTimeout bounds one source fetch. Fetches run detached from the caller
// so a disconnecting client cannot fail the load for everyone else.
const fetchTimeout = 30 * time.Second

type cachedLoad struct {
	catalog   Catalog
	condition Condition
	// transient loads hit a deadline or cancellation and are not cached.
	transient bool
}

// LoadHook observes every fetch that went to the source. changed is true when
// the catalog content differs from the previous fetch.
type LoadHook func(c Catalog, cond Condition, changed bool)

// Loader memoizes a Source behind an explicit cache. Failed loads are cached
// too, so a missing file is not re-read on every turn; Invalidate forces a refetch.
type Loader struct {
	source Source
	cache  *cache.Cache
	group  singleflight.Group
	logger *zap.Logger

	mu              sync.Mutex
	lastFingerprint string
	onLoad          LoadHook
}

// NewLoader creates a loader. ttl <= 0 keeps the catalog until Invalidate is called.
func NewLoader(source Source, ttl time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &Loader{
		source: source,
		cache:  cache.New(expiration, cleanup),
		logger: logger.Named("catalog"),
	}
}

func (l *Loader) SetLoadHook(hook LoadHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLoad = hook
}

// Load returns the cached catalog, fetching it from the source on a miss. It
// never returns an error: failures resolve to an empty catalog and a non-OK Condition.
// Cancelling ctx does not abort the fetch; timed-out fetches are retried on the next Load.
func (l *Loader) Load(ctx context.Context) (Catalog, Condition) {
	key := l.source.Name()
	if v, ok := l.cache.Get(key); ok {
		entry := v.(cachedLoad)
		return entry.catalog, entry.condition
	}

	v, _, _ := l.group.Do(key, func() (any, error) {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		entry := l.fetch(fetchCtx)
		if !entry.transient {
			l.cache.Set(key, entry, cache.DefaultExpiration)
		}
		return entry, nil
	})
	entry := v.(cachedLoad)
	return entry.catalog, entry.condition
}

func (l *Loader) fetch(ctx context.Context) (entry cachedLoad) {
	name := l.source.Name()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("catalog source panicked", zap.String("source", name), zap.Any("panic", r))
			entry = cachedLoad{condition: Condition{Kind: ConditionCorrupt, Source: name, Detail: "source panicked"}}
		}
		l.notify(entry)
	}()

	records, err := l.source.Fetch(ctx)
	cond := conditionFor(name, err)
	if !cond.OK() {
		l.logger.Warn("catalog degraded to empty",
			zap.String("source", name),
			zap.String("condition", string(cond.Kind)),
			zap.Error(err),
		)
		transient := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		return cachedLoad{condition: cond, transient: transient}
	}

	c := New(records)
	l.logger.Info("catalog loaded", zap.String("source", name), zap.Int("records", c.Len()))
	return cachedLoad{catalog: c, condition: cond}
}

func (l *Loader) notify(entry cachedLoad) {
	fp := entry.catalog.Fingerprint()
	l.mu.Lock()
	changed := fp != l.lastFingerprint
	l.lastFingerprint = fp
	hook := l.onLoad
	l.mu.Unlock()

	if hook != nil {
		hook(entry.catalog, entry.condition, changed)
	}
}

// Invalidate drops the cached catalog; the next Load refetches from the source.
func (l *Loader) Invalidate() {
	l.cache.Delete(l.source.Name())
	l.logger.Debug("catalog cache invalidated", zap.String("source", l.source.Name()))
}
