package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/sourcegraph/conc"
)

// SessionKey identifies a pending overlay request
type SessionKey struct {
	ChatID int64
	UserID int64
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d:%d", k.ChatID, k.UserID)
}

// Session is an overlay request waiting for the user's image
type Session struct {
	Key       SessionKey
	PromptID  int // message the image must reply to
	AssetID   string
	Mention   string
	CreatedAt time.Time
}

// TakeResult describes the outcome of SessionStore.Take
type TakeResult int

const (
	TakeMissing TakeResult = iota
	TakeOK
	TakeExpired
)

// SessionStore keeps at most one pending request per chat and user.
// Entries expire after the TTL; onExpire is called once for each entry
// that expired without being taken.
type SessionStore struct {
	mu       sync.Mutex
	cache    *theine.Cache[SessionKey, Session]
	ttl      time.Duration
	onExpire func(Session)
	notices  conc.WaitGroup
	now      func() time.Time
}

// NewSessionStore creates a store holding up to capacity sessions
func NewSessionStore(capacity int64, ttl time.Duration, onExpire func(Session)) (*SessionStore, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if capacity <= 0 {
		capacity = 10000
	}

	s := &SessionStore{ttl: ttl, onExpire: onExpire, now: time.Now}
	cache, err := theine.NewBuilder[SessionKey, Session](capacity).
		RemovalListener(func(key SessionKey, value Session, reason theine.RemoveReason) {
			if reason == theine.EXPIRED && s.onExpire != nil {
				// listener runs on the cache maintenance goroutine
				s.notices.Go(func() { s.onExpire(value) })
			}
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build session cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Put stores session, replacing any pending one for the same key.
// It returns the replaced session, if any.
func (s *SessionStore) Put(session Session) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	previous, replaced := s.cache.Get(session.Key)
	if replaced {
		s.cache.Delete(session.Key)
	}
	s.cache.SetWithTTL(session.Key, session, 1, s.ttl)
	return previous, replaced
}

// Get returns the pending session for key
func (s *SessionStore) Get(key SessionKey) (Session, bool) {
	return s.cache.Get(key)
}

// Take removes and returns the session for key if promptID matches it.
// A session older than the TTL is removed and reported as expired.
func (s *SessionStore) Take(key SessionKey, promptID int) (Session, TakeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.cache.Get(key)
	if !ok || session.PromptID != promptID {
		return Session{}, TakeMissing
	}
	s.cache.Delete(key)
	if s.now().Sub(session.CreatedAt) > s.ttl {
		return session, TakeExpired
	}
	return session, TakeOK
}

// Len returns the number of pending sessions
func (s *SessionStore) Len() int {
	return s.cache.Len()
}

// Close releases the cache and waits for running onExpire calls
func (s *SessionStore) Close() {
	s.cache.Close()
	s.notices.Wait()
}
