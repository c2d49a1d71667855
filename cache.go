package realtime

// Cache is the shared client-side data cache the router invalidates.
// Implementations must not block: invalidation is fire-and-forget and any
// revalidation happens in the background.
type Cache interface {
	// Invalidate drops or revalidates exactly one key.
	Invalidate(key string)
	// InvalidateMatching drops or revalidates every key match accepts.
	InvalidateMatching(match func(key string) bool)
}

// CacheFuncs adapts a pair of functions to the Cache interface.
type CacheFuncs struct {
	InvalidateFunc         func(key string)
	InvalidateMatchingFunc func(match func(key string) bool)
}

func (c CacheFuncs) Invalidate(key string) {
	if c.InvalidateFunc != nil {
		c.InvalidateFunc(key)
	}
}

func (c CacheFuncs) InvalidateMatching(match func(key string) bool) {
	if c.InvalidateMatchingFunc != nil {
		c.InvalidateMatchingFunc(match)
	}
}
