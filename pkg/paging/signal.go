package paging

import "sync"

// KeySignal is a latest-wins single-slot signal for access keys. Send
// overwrites the slot; the notification channel is buffered (size 1) so
// wake-ups coalesce and the consumer only ever drains the newest key.
type KeySignal struct {
	mu      sync.Mutex
	key     int
	pending bool
	notify  chan struct{}
}

// NewKeySignal creates an empty signal.
func NewKeySignal() *KeySignal {
	return &KeySignal{notify: make(chan struct{}, 1)}
}

// Send stores key as the latest value and wakes the consumer. If an earlier
// key has not been taken yet it is overwritten.
func (s *KeySignal) Send(key int) {
	s.mu.Lock()
	s.key = key
	s.pending = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify returns the wake-up channel. A receive means at least one Send
// happened since the previous receive; Take may already have consumed its key.
func (s *KeySignal) Notify() <-chan struct{} {
	return s.notify
}

// Take removes and returns the latest key. ok is false when nothing was
// sent since the previous Take.
func (s *KeySignal) Take() (key int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return 0, false
	}
	s.pending = false
	return s.key, true
}
