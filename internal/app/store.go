package app

import (
	"sync"

	"propenrich/internal/domain"
)

// Store holds the merged record of the active session and who owns each field.
// All access goes through its mutex.
type Store struct {
	mu         sync.Mutex
	precedence Precedence
	token      uint64
	record     domain.PropertyRecord
	owners     map[domain.Field]string
}

func NewStore(p Precedence) *Store {
	if p == nil {
		p = DefaultPrecedence()
	}
	return &Store{
		precedence: p,
		record:     domain.NewRecord(""),
		owners:     map[domain.Field]string{},
	}
}

// BeginSession makes token active and resets the record and provenance.
func (s *Store) BeginSession(token uint64, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.record = domain.NewRecord(address)
	s.owners = map[domain.Field]string{}
}

// ActiveToken returns the token of the current session (0 before the first).
func (s *Store) ActiveToken() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Merge applies partial from source under token and returns the cumulative
// record. It returns domain.ErrStaleSession, changing nothing, when token is
// not the active session.
func (s *Store) Merge(token uint64, source string, partial domain.Partial) (domain.PropertyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return domain.PropertyRecord{}, domain.ErrStaleSession
	}

	fields := partial.Fields()
	for f, v := range fields {
		if !s.precedence.Outranks(f, source, s.owners[f]) {
			continue
		}
		if s.record.Set(f, v) {
			s.owners[f] = source
		}
	}
	prov, ok := s.record.Sources[source]
	if !ok {
		prov = make(map[domain.Field]any, len(fields))
		s.record.Sources[source] = prov
	}
	for f, v := range fields {
		prov[f] = v
	}
	return s.record.Clone(), nil
}

// Current returns a snapshot of the active record.
func (s *Store) Current() domain.PropertyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Owner returns the source that supplied the current value of f.
func (s *Store) Owner(f domain.Field) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.owners[f]
	return src, ok
}
