package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"propenrich/internal/domain"
)

type SessionState int32

const (
	StateIdle SessionState = iota
	StateSessionOpen
	StateFetchersRunning
	StateSettled
	StateSuperseded
)

func (s SessionState) String() string {
	switch s {
	case StateSessionOpen:
		return "session_open"
	case StateFetchersRunning:
		return "fetchers_running"
	case StateSettled:
		return "settled"
	case StateSuperseded:
		return "superseded"
	default:
		return "idle"
	}
}

// Session is the handle for one enrichment run.
type Session struct {
	token   uint64
	id      string
	address string
	log     zerolog.Logger

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	diags []*domain.FetchError
	final domain.PropertyRecord
}

func (s *Session) Token() uint64   { return s.token }
func (s *Session) ID() string      { return s.id }
func (s *Session) Address() string { return s.address }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Done is closed once the completed event has been published, or on supersede.
func (s *Session) Done() <-chan struct{} { return s.done }

// Diagnostics returns the failures recorded so far, in settle order.
func (s *Session) Diagnostics() []*domain.FetchError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.FetchError(nil), s.diags...)
}

// Wait blocks until the session ends. A superseded session yields
// domain.ErrSuperseded.
func (s *Session) Wait(ctx context.Context) (domain.PropertyRecord, error) {
	select {
	case <-ctx.Done():
		return domain.PropertyRecord{}, ctx.Err()
	case <-s.done:
	}
	if s.State() == StateSuperseded {
		return domain.PropertyRecord{}, domain.ErrSuperseded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final.Clone(), nil
}

func (s *Session) addDiag(e *domain.FetchError) {
	s.mu.Lock()
	s.diags = append(s.diags, e)
	s.mu.Unlock()
}

// advance moves from one live state to the next; it fails once the session
// has been superseded.
func (s *Session) advance(from, to SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// supersede reports whether the session was still live.
func (s *Session) supersede() bool {
	for {
		cur := s.State()
		if cur == StateSettled || cur == StateSuperseded {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateSuperseded)) {
			s.cancel()
			s.close()
			return true
		}
	}
}

// settle records the final snapshot. The caller closes Done once the
// completed event is out.
func (s *Session) settle(rec domain.PropertyRecord) bool {
	if !s.advance(StateFetchersRunning, StateSettled) {
		return false
	}
	s.mu.Lock()
	s.final = rec
	s.mu.Unlock()
	return true
}

func (s *Session) close() { s.once.Do(func() { close(s.done) }) }
