package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"propenrich/internal/adapters/observability"
	"propenrich/internal/domain"
)

type Request struct {
	Address string

	// Hint skips the geocoder when set.
	Hint *domain.Coords
}

type Options struct {
	FetchTimeout   time.Duration
	GeocodeTimeout time.Duration
}

// Orchestrator runs one enrichment session at a time. Starting a new session
// supersedes the previous one; nothing from a superseded session reaches the
// store or the bus afterwards.
type Orchestrator struct {
	geocoder domain.Geocoder
	fetchers []domain.SourceFetcher
	store    *Store
	bus      *Bus
	opts     Options

	// mu makes "is this session current" checks atomic with the store
	// mutation and publish that follow them.
	mu     sync.Mutex
	seq    uint64
	active *Session
}

func NewOrchestrator(g domain.Geocoder, fetchers []domain.SourceFetcher, store *Store, bus *Bus, opts Options) (*Orchestrator, error) {
	seen := make(map[string]struct{}, len(fetchers))
	for _, f := range fetchers {
		name := f.Name()
		if name == "" {
			return nil, fmt.Errorf("fetcher %T has no name", f)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate fetcher name %q", name)
		}
		seen[name] = struct{}{}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = 10 * time.Second
	}
	if store == nil {
		store = NewStore(nil)
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Orchestrator{geocoder: g, fetchers: fetchers, store: store, bus: bus, opts: opts}, nil
}

func (o *Orchestrator) Bus() *Bus     { return o.bus }
func (o *Orchestrator) Store() *Store { return o.store }

// State reports the state of the most recent session, or idle.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return StateIdle
	}
	return o.active.State()
}

// Current returns the most recent session, or nil.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Snapshot returns the most recent session and the store's record, taken
// under one lock so both belong to the same session. The session is nil
// when none has started.
func (o *Orchestrator) Snapshot() (*Session, domain.PropertyRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active, o.store.Current()
}

// Enrich starts a session and waits for it to settle.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (domain.PropertyRecord, error) {
	s, err := o.Start(ctx, req)
	if err != nil {
		return domain.PropertyRecord{}, err
	}
	return s.Wait(ctx)
}

// Start opens a new session and returns without waiting for providers.
// Canceling ctx cancels the session's outstanding calls.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Session, error) {
	addr := strings.TrimSpace(req.Address)
	if addr == "" {
		return nil, domain.ErrEmptyAddress
	}
	sctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if prev := o.active; prev != nil && prev.supersede() {
		observability.ObserveSession("superseded")
		prev.log.Info().Msg("session superseded")
	}
	o.seq++
	s := &Session{
		token:   o.seq,
		id:      uuid.NewString(),
		address: addr,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.log = log.With().Str("session", s.id).Uint64("token", s.token).Str("address", addr).Logger()
	s.state.Store(int32(StateSessionOpen))
	o.active = s
	o.store.BeginSession(s.token, addr)
	o.bus.Publish(Event{Kind: EventStarted, Token: s.token, Session: s.id, Address: addr, Record: domain.NewRecord(addr)})
	o.mu.Unlock()

	s.log.Info().Int("fetchers", len(o.fetchers)).Msg("session started")
	go o.run(sctx, s, req.Hint)
	return s, nil
}

func (o *Orchestrator) run(ctx context.Context, s *Session, hint *domain.Coords) {
	defer s.cancel()

	fc := domain.FetchContext{Address: s.address}
	switch {
	case hint != nil:
		c := *hint
		fc.Coords = &c
	case o.geocoder != nil:
		if c, err := o.resolve(ctx, s.address); err != nil {
			s.log.Warn().Err(err).Msg("geocode failed; skipping coordinate fetchers")
		} else {
			fc.Coords = &c
		}
	}

	if !s.advance(StateSessionOpen, StateFetchersRunning) {
		return
	}

	var g errgroup.Group
	for _, f := range o.fetchers {
		if !fc.Satisfies(f.Requires()) {
			s.log.Debug().Str("source", f.Name()).Msg("fetcher not attempted")
			continue
		}
		f := f
		g.Go(func() error {
			o.settle(ctx, s, f, fc)
			return nil
		})
	}
	_ = g.Wait()

	o.finish(s)
}

func (o *Orchestrator) resolve(ctx context.Context, addr string) (domain.Coords, error) {
	gctx, cancel := context.WithTimeout(ctx, o.opts.GeocodeTimeout)
	defer cancel()
	c, err := o.geocoder.Resolve(gctx, addr)
	if err != nil && !errors.Is(err, domain.ErrGeocodeFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrGeocodeFailed, err)
	}
	return c, err
}

// settle runs one fetcher and folds its outcome into the session.
func (o *Orchestrator) settle(ctx context.Context, s *Session, f domain.SourceFetcher, fc domain.FetchContext) {
	name := f.Name()
	start := time.Now()
	partial, ferr := o.invoke(ctx, f, fc)
	if ferr != nil {
		observability.ObserveFetch(name, string(ferr.Kind), time.Since(start))
		s.addDiag(ferr)
		s.log.Warn().Str("source", name).Str("kind", string(ferr.Kind)).Err(ferr.Err).Msg("fetch failed")
		return
	}
	observability.ObserveFetch(name, "ok", time.Since(start))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != s {
		s.log.Debug().Str("source", name).Msg("result for superseded session dropped")
		return
	}
	rec, err := o.store.Merge(s.token, name, partial)
	if errors.Is(err, domain.ErrStaleSession) {
		s.log.Debug().Str("source", name).Msg("stale merge ignored")
		return
	}
	s.log.Info().Str("source", name).Int("fields", len(partial.Fields())).Msg("source merged")
	o.bus.Publish(Event{Kind: EventUpdated, Token: s.token, Session: s.id, Address: s.address, Source: name, Record: rec})
}

type fetchOutcome struct {
	partial domain.Partial
	err     error
}

// invoke calls f under its own deadline and turns every way it can fail,
// including a panic or ignoring the deadline, into a FetchError.
func (o *Orchestrator) invoke(ctx context.Context, f domain.SourceFetcher, fc domain.FetchContext) (domain.Partial, *domain.FetchError) {
	name := f.Name()
	fctx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	ch := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fetchOutcome{err: &domain.FetchError{Source: name, Kind: domain.FetchPanic, Err: fmt.Errorf("%v", r)}}
			}
		}()
		p, err := f.Fetch(fctx, fc)
		ch <- fetchOutcome{partial: p, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-ch:
	case <-fctx.Done():
		out = fetchOutcome{err: fctx.Err()}
	}

	if out.err == nil {
		if out.partial == nil {
			return nil, &domain.FetchError{Source: name, Kind: domain.FetchMalformed, Err: errors.New("empty result")}
		}
		return out.partial, nil
	}
	return nil, classify(name, out.err, ctx)
}

func classify(source string, err error, session context.Context) *domain.FetchError {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		if fe.Source == "" {
			fe.Source = source
		}
		return fe
	}
	kind := domain.FetchUnavailable
	switch {
	case session.Err() != nil:
		kind = domain.FetchCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.FetchTimeout
	case domain.IsMalformed(err):
		kind = domain.FetchMalformed
	}
	return &domain.FetchError{Source: source, Kind: kind, Err: err}
}

func (o *Orchestrator) finish(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != s {
		return
	}
	rec := o.store.Current()
	if !s.settle(rec.Clone()) {
		return
	}
	defer s.close()
	observability.ObserveSession("completed")
	s.log.Info().
		Int("fields", len(rec.Populated())).
		Int("sources", len(rec.Sources)).
		Int("failures", len(s.Diagnostics())).
		Msg("session completed")
	o.bus.Publish(Event{Kind: EventCompleted, Token: s.token, Session: s.id, Address: s.address, Record: rec})
}
