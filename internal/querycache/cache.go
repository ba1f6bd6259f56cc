package querycache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

var (
	// ErrQueryDisabled indicates the query is ineligible to execute: no
	// Identity is present or the caller's enabled condition is false.
	// The query idles until eligibility changes; no polling, no retry.
	ErrQueryDisabled = errors.New("querycache.disabled")
)

// Default freshness windows, matching the application's match queries.
const (
	DefaultStaleTime = 2 * time.Minute
	DefaultCacheTime = 5 * time.Minute
)

// EntryOptions bounds one entry's freshness and lifetime.
type EntryOptions struct {
	// StaleTime is how long a value is served without refetching.
	StaleTime time.Duration
	// CacheTime is how long a value is kept at all.
	CacheTime time.Duration
}

func (options EntryOptions) withDefaults() EntryOptions {
	if options.StaleTime <= 0 {
		options.StaleTime = DefaultStaleTime
	}
	if options.CacheTime <= 0 {
		options.CacheTime = DefaultCacheTime
	}
	return options
}

type entry struct {
	value       any
	fetchedAt   time.Time
	staleTime   time.Duration
	cacheTime   time.Duration
	invalidated bool
}

// FetchFunc loads a value from the backend.
type FetchFunc func(ctx context.Context) (any, error)

// Config configures a Cache.
type Config struct {
	Logger *zap.Logger
	Clock  sessionkit.Clock
	// Sleep overrides the retry backoff wait; tests record delays.
	Sleep func(ctx context.Context, delay time.Duration) error
}

// Cache is the scoped query cache. Concurrent fetches for the same key
// are collapsed into one in-flight call.
type Cache struct {
	logger *zap.Logger
	clock  sessionkit.Clock
	sleep  sleepFunc

	mutex       sync.Mutex
	entries     map[string]*entry
	generations map[string]uint64
	epochs      map[string]uint64
	keyLocks    map[string]*sync.Mutex
	flight      singleflight.Group
}

// New constructs an empty Cache.
func New(configuration Config) *Cache {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = sessionkit.NewSystemClock()
	}
	sleep := sleepFunc(realSleep)
	if configuration.Sleep != nil {
		sleep = configuration.Sleep
	}
	return &Cache{
		logger:      logger,
		clock:       clock,
		sleep:       sleep,
		entries:     make(map[string]*entry),
		generations: make(map[string]uint64),
		epochs:      make(map[string]uint64),
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

// Fetch returns the cached value for key when fresh, otherwise executes
// fetch with the read retry policy and stores the result. Ineligible
// queries return ErrQueryDisabled without executing anything.
func (cache *Cache) Fetch(ctx context.Context, key Key, enabled bool, fetch FetchFunc, options EntryOptions) (any, error) {
	if key.identityID == "" || !enabled {
		return nil, ErrQueryDisabled
	}
	options = options.withDefaults()
	keyText := key.String()

	cache.mutex.Lock()
	if cached, fresh := cache.freshValueLocked(keyText); fresh {
		cache.mutex.Unlock()
		return cached, nil
	}
	generation := cache.generations[keyText]
	epoch := cache.epochs[key.identityID]
	cache.mutex.Unlock()

	value, fetchErr, _ := cache.flight.Do(keyText, func() (any, error) {
		return runWithRetry(ctx, maxReadRetries, cache.sleep, fetch)
	})
	if fetchErr != nil {
		return nil, fetchErr
	}

	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.generations[keyText] != generation || cache.epochs[key.identityID] != epoch {
		// A cancellation, optimistic write, or identity-wide
		// invalidation superseded this fetch; its result must not
		// clobber the newer state.
		if cached, exists := cache.entries[keyText]; exists {
			return cached.value, nil
		}
		return value, nil
	}
	cache.entries[keyText] = &entry{
		value:     value,
		fetchedAt: cache.clock.Now(),
		staleTime: options.StaleTime,
		cacheTime: options.CacheTime,
	}
	return value, nil
}

// Peek returns the current cached value without fetching.
func (cache *Cache) Peek(key Key) (any, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cached, exists := cache.entries[key.String()]
	if !exists {
		return nil, false
	}
	if cache.clock.Now().Sub(cached.fetchedAt) > cached.cacheTime {
		delete(cache.entries, key.String())
		return nil, false
	}
	return cached.value, true
}

// SetValue stores a value for key directly, used for speculative
// optimistic updates and rollbacks.
func (cache *Cache) SetValue(key Key, value any) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	keyText := key.String()
	existing, exists := cache.entries[keyText]
	if exists {
		existing.value = value
		existing.fetchedAt = cache.clock.Now()
		return
	}
	cache.entries[keyText] = &entry{
		value:     value,
		fetchedAt: cache.clock.Now(),
		staleTime: DefaultStaleTime,
		cacheTime: DefaultCacheTime,
	}
}

// Invalidate marks the entry stale so the next Fetch refetches. The
// value stays readable through Peek until it is replaced.
func (cache *Cache) Invalidate(key Key) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cached, exists := cache.entries[key.String()]; exists {
		cached.invalidated = true
	}
}

// InvalidateIdentity invalidates every entry namespaced under the
// identity in one pass, so no stale cross-entity view survives. The
// epoch bump also rejects in-flight fetches that started before the
// invalidation, which would otherwise store pre-mutation values.
func (cache *Cache) InvalidateIdentity(identityID string) {
	prefix := identityNamespace(identityID)
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.epochs[identityID]++
	for keyText, cached := range cache.entries {
		if strings.HasPrefix(keyText, prefix) {
			cached.invalidated = true
		}
	}
}

// DropIdentity removes every entry for the identity. Called when the
// session ends or is replaced: no Cache Entry may outlive the Identity
// it was fetched under.
func (cache *Cache) DropIdentity(identityID string) {
	prefix := identityNamespace(identityID)
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.epochs[identityID]++
	for keyText := range cache.entries {
		if strings.HasPrefix(keyText, prefix) {
			delete(cache.entries, keyText)
			cache.generations[keyText]++
		}
	}
}

// CancelFetches invalidates in-flight fetches for key: their results
// are discarded instead of stored.
func (cache *Cache) CancelFetches(key Key) {
	keyText := key.String()
	cache.mutex.Lock()
	cache.generations[keyText]++
	cache.mutex.Unlock()
	cache.flight.Forget(keyText)
}

func (cache *Cache) freshValueLocked(keyText string) (any, bool) {
	cached, exists := cache.entries[keyText]
	if !exists || cached.invalidated {
		return nil, false
	}
	age := cache.clock.Now().Sub(cached.fetchedAt)
	if age > cached.cacheTime {
		delete(cache.entries, keyText)
		return nil, false
	}
	if age > cached.staleTime {
		return nil, false
	}
	return cached.value, true
}

func (cache *Cache) lockKey(keyText string) *sync.Mutex {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	keyLock, exists := cache.keyLocks[keyText]
	if !exists {
		keyLock = &sync.Mutex{}
		cache.keyLocks[keyText] = keyLock
	}
	return keyLock
}
