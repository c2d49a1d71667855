// Package cache provides an in-process cache that the realtime router can
// invalidate. Registered keys are revalidated in the background after an
// invalidation, the way a stale-while-revalidate data cache behaves.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/kitaflow/realtime-go-sdk/util"
)

var (
	ErrNotFound = errors.New("cache: key not found")
	ErrClosed   = errors.New("cache: store closed")
)

// Fetcher loads the current value of a key.
type Fetcher func(ctx context.Context, key string) (any, error)

// Listener is notified after a key has been revalidated.
type Listener func(key string, value any, err error)

type entry struct {
	value any
	stale bool
}

type Options struct {
	// MaxConcurrentRevalidations bounds background fetches.
	MaxConcurrentRevalidations int64
	// RevalidateTimeout bounds a single background fetch.
	RevalidateTimeout time.Duration
}

func (o *Options) CheckDefaults() {
	if o.MaxConcurrentRevalidations <= 0 {
		o.MaxConcurrentRevalidations = 4
	}
	if o.RevalidateTimeout <= 0 {
		o.RevalidateTimeout = 10 * time.Second
	}
}

type MemoryStore struct {
	options *Options
	group   singleflight.Group
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.RWMutex
	entries   map[string]*entry
	fetchers  map[string]Fetcher
	// gens counts writes and invalidations per key. A fetch only stores its
	// result if the generation it started under is still current.
	gens      map[string]uint64
	listeners map[string]map[int]Listener
	nextID    int
	closed    bool
}

func NewMemoryStore(options *Options) *MemoryStore {
	if options == nil {
		options = &Options{}
	}
	options.CheckDefaults()
	s := &MemoryStore{
		options:   options,
		sem:       semaphore.NewWeighted(options.MaxConcurrentRevalidations),
		entries:   make(map[string]*entry),
		fetchers:  make(map[string]Fetcher),
		gens:      make(map[string]uint64),
		listeners: make(map[string]map[int]Listener),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register makes key revalidatable through fetcher.
func (s *MemoryStore) Register(key string, fetcher Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[key] = fetcher
}

func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value}
	s.gens[key]++
}

// Get returns the cached value of key, fetching it if it is missing or stale.
func (s *MemoryStore) Get(ctx context.Context, key string) (any, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	fetcher := s.fetchers[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if ok && !e.stale {
		return e.value, nil
	}
	if fetcher == nil {
		return nil, ErrNotFound
	}
	return s.fetch(ctx, key, fetcher)
}

// fetch collapses concurrent loads of the same key into one call. A load that
// was overtaken by an invalidation is discarded and repeated, so callers that
// joined the call never see a value older than their invalidation.
func (s *MemoryStore) fetch(ctx context.Context, key string, fetcher Fetcher) (any, error) {
	value, err, _ := s.group.Do(key, func() (any, error) {
		for {
			s.mu.RLock()
			gen := s.gens[key]
			s.mu.RUnlock()

			value, err := fetcher(ctx, key)
			if err != nil {
				return nil, err
			}

			s.mu.Lock()
			if s.gens[key] == gen {
				s.entries[key] = &entry{value: value}
				s.mu.Unlock()
				return value, nil
			}
			s.mu.Unlock()

			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	})
	return value, err
}

// Keys returns every key that holds a value or has a fetcher, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keysLocked()
}

func (s *MemoryStore) keysLocked() []string {
	set := make(map[string]struct{}, len(s.entries)+len(s.fetchers))
	for key := range s.entries {
		set[key] = struct{}{}
	}
	for key := range s.fetchers {
		set[key] = struct{}{}
	}
	return util.SortedKeys(set)
}

// Subscribe registers fn for revalidations of key.
func (s *MemoryStore) Subscribe(key string, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[key][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[key], id)
		if len(s.listeners[key]) == 0 {
			delete(s.listeners, key)
		}
	}
}

func (s *MemoryStore) Invalidate(key string) {
	s.InvalidateMatching(func(k string) bool { return k == key })
}

// InvalidateMatching drops unregistered matching keys and revalidates the
// registered ones in the background. It never blocks on a fetch.
func (s *MemoryStore) InvalidateMatching(match func(key string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var revalidate []string
	for _, key := range s.keysLocked() {
		if !match(key) {
			continue
		}
		if _, ok := s.fetchers[key]; !ok {
			delete(s.entries, key)
			continue
		}
		if e, ok := s.entries[key]; ok {
			e.stale = true
		}
		s.gens[key]++
		revalidate = append(revalidate, key)
	}
	for _, key := range revalidate {
		s.wg.Add(1)
		go s.revalidate(key, s.fetchers[key])
	}
}

func (s *MemoryStore) revalidate(key string, fetcher Fetcher) {
	defer s.wg.Done()
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(s.ctx, s.options.RevalidateTimeout)
	defer cancel()
	value, err := s.fetch(ctx, key, fetcher)
	if err != nil {
		util.Warnf("Cache - Revalidating %s failed: %s", key, err)
	}

	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(key, value, err)
	}
}

// Close stops background revalidation and waits for running fetches.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
