package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propenrich/internal/app"
	"propenrich/internal/domain"
)

// ---- fakes ----

type fakeGeocoder struct {
	calls atomic.Int32
	err   error
}

func (g *fakeGeocoder) Resolve(ctx context.Context, address string) (domain.Coords, error) {
	g.calls.Add(1)
	if g.err != nil {
		return domain.Coords{}, g.err
	}
	return domain.Coords{Lat: 32.7555, Lng: -97.3308}, nil
}

type fakeFetcher struct {
	name     string
	requires domain.Requirement
	delay    time.Duration
	partial  domain.Partial
	err      error
	panics   bool
	deaf     bool   // ignores ctx and sleeps out delay
	holdAddr string // blocks until ctx is done for this address

	calls atomic.Int32
	gotFC atomic.Pointer[domain.FetchContext]
}

func (f *fakeFetcher) Name() string                 { return f.name }
func (f *fakeFetcher) Requires() domain.Requirement { return f.requires }

func (f *fakeFetcher) Fetch(ctx context.Context, fc domain.FetchContext) (domain.Partial, error) {
	f.calls.Add(1)
	f.gotFC.Store(&fc)
	if fc.Address == f.holdAddr {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.deaf {
		time.Sleep(f.delay)
	} else {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panics {
		panic("provider exploded")
	}
	return f.partial, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []app.Event
}

func (r *recorder) handle(e app.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []app.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]app.Event(nil), r.events...)
}

func (r *recorder) forToken(tok uint64) []app.Event {
	var out []app.Event
	for _, e := range r.snapshot() {
		if e.Token == tok {
			out = append(out, e)
		}
	}
	return out
}

func kinds(evs []app.Event) []app.EventKind {
	out := make([]app.EventKind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func newOrchestrator(t *testing.T, g domain.Geocoder, opts app.Options, fs ...domain.SourceFetcher) (*app.Orchestrator, *recorder) {
	t.Helper()
	o, err := app.NewOrchestrator(g, fs, nil, nil, opts)
	require.NoError(t, err)
	rec := &recorder{}
	o.Bus().Subscribe(rec.handle)
	return o, rec
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func solarWayFetchers() (lot, v1, v2, solar *fakeFetcher) {
	lot = &fakeFetcher{name: app.SourceLotRecords, requires: domain.RequiresAddress, delay: 10 * time.Millisecond,
		partial: domain.LotRecordsResult{LotSize: ptr(7405.0), ParcelNumber: ptr("04512345"), YearBuilt: ptr(1998)}}
	v1 = &fakeFetcher{name: app.SourceHazardV1, requires: domain.RequiresCoordinates, delay: 15 * time.Millisecond,
		partial: domain.HazardResult{Standard: domain.ASCE716, WindSpeed: ptr(110.0), SnowLoad: ptr(5.0)}}
	v2 = &fakeFetcher{name: app.SourceHazardV2, requires: domain.RequiresCoordinates, delay: 20 * time.Millisecond,
		err: errors.New("upstream 503")}
	solar = &fakeFetcher{name: app.SourceSolar, requires: domain.RequiresCoordinates, delay: 30 * time.Millisecond,
		partial: domain.SolarResult{SunshineHours: ptr(1650.5), MaxPanels: ptr(42)}}
	return
}

// ---- tests ----

func TestEnrich_MixedOutcomes(t *testing.T) {
	lot, v1, v2, solar := solarWayFetchers()
	o, rec := newOrchestrator(t, &fakeGeocoder{}, app.Options{}, lot, v1, v2, solar)

	s, err := o.Start(context.Background(), app.Request{Address: " 123 Solar Way "})
	require.NoError(t, err)
	final, err := s.Wait(waitCtx(t))
	require.NoError(t, err)

	evs := rec.forToken(s.Token())
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventUpdated, app.EventUpdated, app.EventUpdated, app.EventCompleted}, kinds(evs))
	assert.Equal(t, "123 Solar Way", evs[0].Address)
	assert.Empty(t, evs[0].Record.Populated())

	var sources []string
	prev := 0
	for _, e := range evs[1:4] {
		sources = append(sources, e.Source)
		n := len(e.Record.Populated())
		assert.Greater(t, n, prev, "each update is a cumulative snapshot")
		prev = n
	}
	assert.ElementsMatch(t, []string{app.SourceLotRecords, app.SourceHazardV1, app.SourceSolar}, sources)

	assert.Equal(t, 7405.0, *final.LotSize)
	assert.Equal(t, 110.0, *final.WindSpeed716)
	assert.Nil(t, final.WindSpeed, "the failed standard leaves its namespace empty")
	assert.Equal(t, 42, *final.MaxPanels)
	assert.NotContains(t, final.Sources, app.SourceHazardV2)
	assert.Equal(t, final, evs[4].Record)

	diags := s.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, app.SourceHazardV2, diags[0].Source)
	assert.Equal(t, domain.FetchUnavailable, diags[0].Kind)
	assert.Equal(t, app.StateSettled, s.State())

	fc := solar.gotFC.Load()
	require.NotNil(t, fc)
	assert.Equal(t, &domain.Coords{Lat: 32.7555, Lng: -97.3308}, fc.Coords)
}

func TestEnrich_SolarWayTimeline(t *testing.T) {
	lot := &fakeFetcher{name: app.SourceLotRecords, requires: domain.RequiresAddress, delay: 200 * time.Millisecond,
		err: errors.New("assessor offline")}
	v1 := &fakeFetcher{name: app.SourceHazardV1, requires: domain.RequiresCoordinates, delay: 100 * time.Millisecond,
		partial: domain.HazardResult{Standard: domain.ASCE716, WindSpeed: ptr(115.0), SnowLoad: ptr(40.0)}}
	v2 := &fakeFetcher{name: app.SourceHazardV2, requires: domain.RequiresCoordinates, delay: 150 * time.Millisecond,
		partial: domain.HazardResult{Standard: domain.ASCE722, WindSpeed: ptr(110.0), SnowLoad: ptr(35.0)}}
	solar := &fakeFetcher{name: app.SourceSolar, requires: domain.RequiresCoordinates, delay: 300 * time.Millisecond,
		partial: domain.SolarResult{SunshineHours: ptr(1650.5), MaxPanels: ptr(42), MaxArrayArea: ptr(78.4), CarbonOffset: ptr(428.9)}}
	o, rec := newOrchestrator(t, &fakeGeocoder{}, app.Options{}, lot, v1, v2, solar)

	start := time.Now()
	s, err := o.Start(context.Background(), app.Request{Address: "123 Solar Way"})
	require.NoError(t, err)
	final, err := s.Wait(waitCtx(t))
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 115.0, *final.WindSpeed716)
	assert.Equal(t, 40.0, *final.SnowLoad716)
	assert.Equal(t, 110.0, *final.WindSpeed)
	assert.Equal(t, 35.0, *final.SnowLoad)
	assert.Equal(t, 1650.5, *final.SunshineHours)
	assert.Equal(t, 42, *final.MaxPanels)
	assert.NotNil(t, final.MaxArrayArea)
	assert.NotNil(t, final.CarbonOffset)
	assert.Nil(t, final.LotSize)
	assert.Nil(t, final.ParcelNumber)
	assert.Nil(t, final.Owner)
	assert.Nil(t, final.LandUse)

	var sources []string
	for src := range final.Sources {
		sources = append(sources, src)
	}
	assert.ElementsMatch(t, []string{app.SourceHazardV1, app.SourceHazardV2, app.SourceSolar}, sources)

	evs := rec.forToken(s.Token())
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventUpdated, app.EventUpdated, app.EventUpdated, app.EventCompleted}, kinds(evs))
	assert.Equal(t, []string{app.SourceHazardV1, app.SourceHazardV2, app.SourceSolar},
		[]string{evs[1].Source, evs[2].Source, evs[3].Source}, "updates follow resolution order")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "completed waits for the slowest fetcher")

	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, app.SourceLotRecords, s.Diagnostics()[0].Source)
}

func TestEnrich_UnionOfSuccessfulPartials(t *testing.T) {
	parts := map[string]domain.Partial{
		app.SourceLotRecords: domain.LotRecordsResult{Owner: ptr("J. Doe"), LotSize: ptr(7405.0)},
		app.SourceHazardV2:   domain.HazardResult{Standard: domain.ASCE722, WindSpeed: ptr(110.0), SnowLoad: ptr(35.0)},
		app.SourceSolar:      domain.SolarResult{SunshineHours: ptr(1650.5)},
	}
	names := []string{app.SourceLotRecords, app.SourceHazardV2, app.SourceSolar}

	cases := []struct {
		name string
		ok   []string
	}{
		{"none succeed", nil},
		{"lot records only", []string{app.SourceLotRecords}},
		{"hazard and solar", []string{app.SourceHazardV2, app.SourceSolar}},
		{"all succeed", names},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			succeeded := map[string]bool{}
			for _, n := range tc.ok {
				succeeded[n] = true
			}
			var fs []domain.SourceFetcher
			var want []domain.Field
			for i, n := range names {
				f := &fakeFetcher{name: n, delay: time.Duration(i+1) * 5 * time.Millisecond}
				if succeeded[n] {
					f.partial = parts[n]
					for field := range parts[n].Fields() {
						want = append(want, field)
					}
				} else {
					f.err = errors.New("unavailable")
				}
				fs = append(fs, f)
			}
			o, _ := newOrchestrator(t, nil, app.Options{}, fs...)

			final, err := o.Enrich(waitCtx(t), app.Request{Address: "123 Solar Way"})
			require.NoError(t, err)
			assert.ElementsMatch(t, want, final.Populated())

			var sources []string
			for src := range final.Sources {
				sources = append(sources, src)
			}
			assert.ElementsMatch(t, tc.ok, sources)
		})
	}
}

func TestEnrich_ResolutionOrderDoesNotChangeResult(t *testing.T) {
	run := func(t *testing.T, lotDelay, assessorDelay, solarDelay time.Duration) domain.PropertyRecord {
		t.Helper()
		lot := &fakeFetcher{name: app.SourceLotRecords, delay: lotDelay,
			partial: domain.LotRecordsResult{Owner: ptr("J. Doe"), LotSize: ptr(7405.0)}}
		assessor := &fakeFetcher{name: app.SourceCountyAssessor, delay: assessorDelay,
			partial: domain.LotRecordsResult{Owner: ptr("DOE JOHN"), LandUse: ptr("A1")}}
		solar := &fakeFetcher{name: app.SourceSolar, delay: solarDelay,
			partial: domain.SolarResult{MaxPanels: ptr(42)}}
		o, _ := newOrchestrator(t, nil, app.Options{}, lot, assessor, solar)
		final, err := o.Enrich(waitCtx(t), app.Request{Address: "123 Solar Way"})
		require.NoError(t, err)
		return final
	}

	base := run(t, 5*time.Millisecond, 20*time.Millisecond, 35*time.Millisecond)
	for _, d := range [][3]time.Duration{
		{35 * time.Millisecond, 20 * time.Millisecond, 5 * time.Millisecond},
		{20 * time.Millisecond, 5 * time.Millisecond, 35 * time.Millisecond},
	} {
		assert.Equal(t, base, run(t, d[0], d[1], d[2]))
	}
	assert.Equal(t, "J. Doe", *base.Owner, "lot-records outranks county-assessor")
	assert.Equal(t, "A1", *base.LandUse)
	assert.Equal(t, 42, *base.MaxPanels)
}

func TestEnrich_GeocodeFailureSkipsCoordinateFetchers(t *testing.T) {
	lot, v1, v2, solar := solarWayFetchers()
	o, rec := newOrchestrator(t, &fakeGeocoder{err: errors.New("no match")}, app.Options{}, lot, v1, v2, solar)

	final, err := o.Enrich(waitCtx(t), app.Request{Address: "123 Solar Way"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, lot.calls.Load())
	for _, f := range []*fakeFetcher{v1, v2, solar} {
		assert.Zero(t, f.calls.Load(), f.name)
	}
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventUpdated, app.EventCompleted}, kinds(rec.snapshot()))
	assert.Equal(t, "04512345", *final.ParcelNumber)
	assert.Nil(t, final.WindSpeed716)
}

func TestEnrich_CompletesWhenEverythingFails(t *testing.T) {
	f1 := &fakeFetcher{name: "a", err: domain.Malformed(errors.New("bad"))}
	f2 := &fakeFetcher{name: "b", err: errors.New("boom")}
	o, rec := newOrchestrator(t, &fakeGeocoder{}, app.Options{}, f1, f2)

	s, err := o.Start(context.Background(), app.Request{Address: "1 Nowhere"})
	require.NoError(t, err)
	final, err := s.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Empty(t, final.Populated())
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventCompleted}, kinds(rec.snapshot()))

	got := map[string]domain.FetchErrorKind{}
	for _, d := range s.Diagnostics() {
		got[d.Source] = d.Kind
	}
	assert.Equal(t, map[string]domain.FetchErrorKind{"a": domain.FetchMalformed, "b": domain.FetchUnavailable}, got)
}

func TestEnrich_NoFetchersStillCompletes(t *testing.T) {
	o, rec := newOrchestrator(t, nil, app.Options{})
	_, err := o.Enrich(waitCtx(t), app.Request{Address: "1 Main St"})
	require.NoError(t, err)
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventCompleted}, kinds(rec.snapshot()))
}

func TestEnrich_PanicIsContained(t *testing.T) {
	bad := &fakeFetcher{name: "bad", panics: true}
	good := &fakeFetcher{name: app.SourceLotRecords, partial: domain.LotRecordsResult{Owner: ptr("J")}}
	o, _ := newOrchestrator(t, nil, app.Options{}, bad, good)

	s, err := o.Start(context.Background(), app.Request{Address: "1 Main St"})
	require.NoError(t, err)
	final, err := s.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, "J", *final.Owner)
	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, domain.FetchPanic, s.Diagnostics()[0].Kind)
}

func TestEnrich_SlowFetcherTimesOut(t *testing.T) {
	slow := &fakeFetcher{name: "slow", delay: time.Second, deaf: true, partial: domain.LotRecordsResult{Owner: ptr("late")}}
	o, _ := newOrchestrator(t, nil, app.Options{FetchTimeout: 30 * time.Millisecond}, slow)

	start := time.Now()
	s, err := o.Start(context.Background(), app.Request{Address: "1 Main St"})
	require.NoError(t, err)
	final, err := s.Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Nil(t, final.Owner)
	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, domain.FetchTimeout, s.Diagnostics()[0].Kind)
}

func TestEnrich_HintBypassesGeocoder(t *testing.T) {
	g := &fakeGeocoder{}
	hz := &fakeFetcher{name: app.SourceHazardV2, requires: domain.RequiresCoordinates,
		partial: domain.HazardResult{Standard: domain.ASCE722, WindSpeed: ptr(115.0)}}
	o, _ := newOrchestrator(t, g, app.Options{}, hz)

	hint := domain.Coords{Lat: 1, Lng: 2}
	final, err := o.Enrich(waitCtx(t), app.Request{Address: "1 Main St", Hint: &hint})
	require.NoError(t, err)

	assert.Zero(t, g.calls.Load())
	assert.Equal(t, 115.0, *final.WindSpeed)
	assert.Equal(t, &hint, hz.gotFC.Load().Coords)
}

func TestStart_SupersedesPreviousSession(t *testing.T) {
	blocking := &fakeFetcher{name: app.SourceLotRecords, holdAddr: "1 Old Rd", partial: domain.LotRecordsResult{Owner: ptr("old")}}
	o, rec := newOrchestrator(t, nil, app.Options{}, blocking)

	first, err := o.Start(context.Background(), app.Request{Address: "1 Old Rd"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return blocking.calls.Load() == 1 }, time.Second, time.Millisecond)

	second, err := o.Start(context.Background(), app.Request{Address: "2 New Rd"})
	require.NoError(t, err)

	_, err = first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, domain.ErrSuperseded)
	assert.Equal(t, app.StateSuperseded, first.State())

	final, err := second.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "2 New Rd", final.Address)
	assert.Equal(t, "old", *final.Owner, "merged under the new session")

	// give the abandoned call time to settle; it must stay silent
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []app.EventKind{app.EventStarted}, kinds(rec.forToken(first.Token())))
	assert.Equal(t, []app.EventKind{app.EventStarted, app.EventUpdated, app.EventCompleted}, kinds(rec.forToken(second.Token())))
	assert.Greater(t, second.Token(), first.Token())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, second, o.Current())

	cur, snap := o.Snapshot()
	assert.Same(t, second, cur)
	assert.Equal(t, "2 New Rd", snap.Address)
}

func TestSnapshot_Idle(t *testing.T) {
	o, _ := newOrchestrator(t, nil, app.Options{})
	s, rec := o.Snapshot()
	assert.Nil(t, s)
	assert.Empty(t, rec.Populated())
}

func TestStart_CompletedExactlyOncePerSession(t *testing.T) {
	f := &fakeFetcher{name: app.SourceLotRecords, partial: domain.LotRecordsResult{Owner: ptr("J")}}
	o, rec := newOrchestrator(t, nil, app.Options{}, f)

	var sessions []*app.Session
	for _, addr := range []string{"1 A St", "2 B St", "3 C St"} {
		s, err := o.Start(context.Background(), app.Request{Address: addr})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	last := sessions[len(sessions)-1]
	_, err := last.Wait(waitCtx(t))
	require.NoError(t, err)

	for _, s := range sessions {
		completed := 0
		for _, e := range rec.forToken(s.Token()) {
			if e.Kind == app.EventCompleted {
				completed++
			}
		}
		assert.LessOrEqual(t, completed, 1)
		if s == last {
			assert.Equal(t, 1, completed)
		}
	}
	assert.Equal(t, app.StateSettled, o.State())
}

func TestStart_RejectsEmptyAddress(t *testing.T) {
	o, rec := newOrchestrator(t, nil, app.Options{})
	_, err := o.Start(context.Background(), app.Request{Address: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyAddress)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, app.StateIdle, o.State())
}

func TestNewOrchestrator_RejectsDuplicateNames(t *testing.T) {
	_, err := app.NewOrchestrator(nil, []domain.SourceFetcher{
		&fakeFetcher{name: "x"}, &fakeFetcher{name: "x"},
	}, nil, nil, app.Options{})
	assert.Error(t, err)
}
