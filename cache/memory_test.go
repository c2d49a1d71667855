package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetFetchesOnce(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	s.Register("dashboard", func(ctx context.Context, key string) (any, error) {
		calls.Add(1)
		<-release
		return "summary", nil
	})

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err := s.Get(context.Background(), "dashboard")
			assert.NoError(t, err)
			results[i] = value
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, value := range results {
		assert.Equal(t, "summary", value)
	}
	assert.Equal(t, int32(1), calls.Load())

	// Cached now.
	before := calls.Load()
	value, err := s.Get(context.Background(), "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "summary", value)
	assert.Equal(t, before, calls.Load())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	_, err := s.Get(context.Background(), "student-detail-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InvalidateDropsUnregistered(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	s.Set("student-detail-1", "alice")
	s.Set("student-detail-2", "bob")

	s.Invalidate("student-detail-1")

	_, err := s.Get(context.Background(), "student-detail-1")
	assert.ErrorIs(t, err, ErrNotFound)
	value, err := s.Get(context.Background(), "student-detail-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", value)
	assert.Equal(t, []string{"student-detail-2"}, s.Keys())
}

func TestMemoryStore_InvalidateMatchingRevalidates(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	var version atomic.Int32
	fetcher := func(ctx context.Context, key string) (any, error) {
		return version.Add(1), nil
	}
	s.Register("active-group-visits-1", fetcher)
	s.Register("active-group-visits-2", fetcher)
	s.Set("dashboard", "summary")

	revalidated := make(chan string, 2)
	for _, key := range []string{"active-group-visits-1", "active-group-visits-2"} {
		s.Subscribe(key, func(key string, value any, err error) {
			assert.NoError(t, err)
			revalidated <- key
		})
	}

	s.InvalidateMatching(func(key string) bool { return key != "dashboard" })

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case key := <-revalidated:
			got[key] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for revalidation")
		}
	}
	assert.Equal(t, map[string]bool{"active-group-visits-1": true, "active-group-visits-2": true}, got)

	value, err := s.Get(context.Background(), "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "summary", value)
}

func TestMemoryStore_InvalidateDuringFetch(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	var version, calls atomic.Int32
	started, release := make(chan struct{}), make(chan struct{})
	s.Register("dashboard-summary", func(ctx context.Context, key string) (any, error) {
		v := version.Load()
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return v, nil
	})

	result := make(chan any, 1)
	go func() {
		value, err := s.Get(context.Background(), "dashboard-summary")
		assert.NoError(t, err)
		result <- value
	}()
	<-started

	s.Invalidate("dashboard-summary")
	version.Store(1)
	s.Invalidate("dashboard-summary")
	close(release)

	select {
	case value := <-result:
		assert.Equal(t, int32(1), value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fetch")
	}

	require.Eventually(t, func() bool {
		value, err := s.Get(context.Background(), "dashboard-summary")
		return err == nil && value == int32(1)
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestMemoryStore_SetDuringFetch(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	var calls atomic.Int32
	started, release := make(chan struct{}), make(chan struct{})
	s.Register("room-list", func(ctx context.Context, key string) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return "old rooms", nil
		}
		return "new rooms", nil
	})

	result := make(chan any, 1)
	go func() {
		value, _ := s.Get(context.Background(), "room-list")
		result <- value
	}()
	<-started
	s.Set("room-list", "written")
	close(release)

	assert.Equal(t, "new rooms", <-result)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemoryStore_RevalidateError(t *testing.T) {
	s := NewMemoryStore(nil)
	defer s.Close()

	fetchErr := errors.New("backend down")
	s.Register("room-list", func(ctx context.Context, key string) (any, error) {
		return nil, fetchErr
	})
	s.Set("room-list", "rooms")

	done := make(chan error, 1)
	unsubscribe := s.Subscribe("room-list", func(key string, value any, err error) {
		done <- err
	})
	defer unsubscribe()

	s.Invalidate("room-list")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, fetchErr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for revalidation")
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore(&Options{MaxConcurrentRevalidations: 1})

	started := make(chan struct{}, 1)
	s.Register("dashboard", func(ctx context.Context, key string) (any, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s.Invalidate("dashboard")
	<-started

	s.Close()
	s.Close()

	_, err := s.Get(context.Background(), "dashboard")
	assert.ErrorIs(t, err, ErrClosed)

	// Invalidations after Close are ignored.
	s.Invalidate("dashboard")
}
