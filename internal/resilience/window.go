package resilience

import (
	"context"
	"sync"
	"time"
)

// Window is the length of both sliding windows.
const Window = time.Minute

// Limits are the per-minute ceilings of one backend. Zero disables a ceiling.
type Limits struct {
	Requests int64
	Tokens   int64
}

// Unlimited reports whether neither ceiling is set.
func (l Limits) Unlimited() bool {
	return l.Requests <= 0 && l.Tokens <= 0
}

// WindowStore holds the sliding windows of every backend and admits usage.
type WindowStore interface {
	// Admit prunes entries older than Window and, if both ceilings allow one
	// more request of the given token cost, records it and returns zero.
	// Otherwise it records nothing and returns the time until the oldest
	// entry in the window expires.
	Admit(ctx context.Context, key string, now time.Time, tokens int64, limits Limits) (time.Duration, error)
}

type usage struct {
	at     time.Time
	tokens int64
}

// slidingWindow is the request and token window of one backend. Both windows
// share entry timestamps: the request window counts entries, the token window
// sums their amounts.
type slidingWindow struct {
	mu      sync.Mutex
	entries []usage
	tokens  int64
}

func (w *slidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(w.entries) && now.Sub(w.entries[cut].at) >= Window {
		w.tokens -= w.entries[cut].tokens
		cut++
	}
	if cut > 0 {
		w.entries = append(w.entries[:0], w.entries[cut:]...)
	}
}

func (w *slidingWindow) admit(now time.Time, tokens int64, limits Limits) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)

	overRequests := limits.Requests > 0 && int64(len(w.entries))+1 > limits.Requests
	overTokens := limits.Tokens > 0 && w.tokens+tokens > limits.Tokens
	if overRequests || overTokens {
		if len(w.entries) == 0 {
			return Window
		}
		return w.entries[0].at.Add(Window).Sub(now)
	}

	w.entries = append(w.entries, usage{at: now, tokens: tokens})
	w.tokens += tokens
	return 0
}

func (w *slidingWindow) totals(now time.Time) (int64, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return int64(len(w.entries)), w.tokens
}

// MemoryWindowStore keeps windows in process memory. Each backend's window has
// its own lock, so a saturated backend never blocks another.
type MemoryWindowStore struct {
	mu      sync.RWMutex
	windows map[string]*slidingWindow
}

// NewMemoryWindowStore creates an empty in-process window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*slidingWindow)}
}

func (s *MemoryWindowStore) window(key string) *slidingWindow {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &slidingWindow{}
	s.windows[key] = w
	return w
}

// Admit implements WindowStore.
func (s *MemoryWindowStore) Admit(_ context.Context, key string, now time.Time, tokens int64, limits Limits) (time.Duration, error) {
	return s.window(key).admit(now, tokens, limits), nil
}

// Usage returns the request count and token sum currently inside key's window.
func (s *MemoryWindowStore) Usage(key string, now time.Time) (requests, tokens int64) {
	return s.window(key).totals(now)
}
