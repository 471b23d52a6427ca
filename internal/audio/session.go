package audio

import (
	"sync"
)

// Session is the explicitly constructed owner of one audio output graph. It
// holds the master gain every component routes into, and tears those
// components down on Close.
type Session struct {
	backend Backend
	master  Gain

	mu       sync.Mutex
	closers  []func()
	isClosed bool
}

// NewSession wires a master gain (level 1.0) into the backend destination.
func NewSession(backend Backend) *Session {
	master := backend.CreateGain()
	master.SetLevel(1.0)
	master.Connect(backend.Destination())
	return &Session{
		backend: backend,
		master:  master,
	}
}

// Backend returns the backend the session was built on.
func (s *Session) Backend() Backend { return s.backend }

// Master returns the shared master gain stage.
func (s *Session) Master() Gain { return s.master }

// onClose registers a teardown hook. Hooks run in reverse registration order.
// If the session is already closed the hook runs immediately.
func (s *Session) onClose(fn func()) {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close tears down every component built on this session. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return
	}
	s.isClosed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
