package realtime

import (
	"sync"

	"github.com/kitaflow/realtime-go-sdk/api"
)

// SessionProvider exposes the authentication state of the hosting app.
type SessionProvider interface {
	Status() api.SessionStatus
	// Token returns the bearer credential while authenticated.
	Token() string
	// Subscribe registers fn for status changes and returns a function that
	// removes it.
	Subscribe(fn func(api.SessionStatus)) (unsubscribe func())
}

// sessionSubscribers is the listener registry shared by the session providers.
type sessionSubscribers struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(api.SessionStatus)
}

func (s *sessionSubscribers) add(fn func(api.SessionStatus)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(api.SessionStatus))
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *sessionSubscribers) notify(status api.SessionStatus) {
	s.mu.Lock()
	fns := make([]func(api.SessionStatus), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}

// StaticSession is a SessionProvider whose state is set by the caller.
type StaticSession struct {
	mu          sync.RWMutex
	status      api.SessionStatus
	token       string
	subscribers sessionSubscribers
}

func NewStaticSession(status api.SessionStatus, token string) *StaticSession {
	return &StaticSession{status: status, token: token}
}

func (s *StaticSession) Status() api.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *StaticSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != api.SessionStatus_Authenticated {
		return ""
	}
	return s.token
}

// Set replaces the session state and notifies subscribers if the status changed.
func (s *StaticSession) Set(status api.SessionStatus, token string) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.token = token
	s.mu.Unlock()
	if changed {
		s.subscribers.notify(status)
	}
}

func (s *StaticSession) Subscribe(fn func(api.SessionStatus)) func() {
	return s.subscribers.add(fn)
}
