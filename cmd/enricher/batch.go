package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"propenrich/internal/app"
	"propenrich/internal/domain"
)

type diagnostic struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error,omitempty"`
}

// result is one JSON line of output.
type result struct {
	Address     string                 `json:"address"`
	Session     string                 `json:"session_id,omitempty"`
	Record      *domain.PropertyRecord `json:"record,omitempty"`
	Diagnostics []diagnostic           `json:"diagnostics,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// readAddresses returns one address per non-blank line; lines starting with
// # are skipped.
func readAddresses(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

type batch struct {
	workers int
	newOrch func() (*app.Orchestrator, error)
	// archive, when set, receives every completed record
	archive func(ctx context.Context, e app.Event) error
}

// run enriches addrs with at most b.workers sessions in flight. Each
// address gets its own orchestrator so sessions never supersede each other.
// It returns how many addresses could not be enriched.
func (b batch) run(ctx context.Context, addrs []string, out io.Writer) int {
	workers := b.workers
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	enc := json.NewEncoder(out)
	emit := func(r result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Error != "" {
			failed++
		}
		if err := enc.Encode(r); err != nil {
			log.Error().Err(err).Str("address", r.Address).Msg("write result failed")
		}
	}

	for _, addr := range addrs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			emit(result{Address: addr, Error: err.Error()})
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			defer sem.Release(1)
			emit(b.enrichOne(ctx, addr))
		}(addr)
	}
	wg.Wait()
	return failed
}

func (b batch) enrichOne(ctx context.Context, addr string) result {
	o, err := b.newOrch()
	if err != nil {
		return result{Address: addr, Error: err.Error()}
	}
	s, err := o.Start(ctx, app.Request{Address: addr})
	if err != nil {
		return result{Address: addr, Error: err.Error()}
	}
	rec, err := s.Wait(ctx)
	if err != nil {
		return result{Address: addr, Session: s.ID(), Error: err.Error()}
	}
	if b.archive != nil {
		e := app.Event{Kind: app.EventCompleted, Token: s.Token(), Session: s.ID(), Address: s.Address(), Record: rec}
		if err := b.archive(ctx, e); err != nil {
			log.Warn().Err(err).Str("address", addr).Msg("archive failed")
		}
	}
	r := result{Address: s.Address(), Session: s.ID(), Record: &rec}
	for _, d := range s.Diagnostics() {
		dv := diagnostic{Source: d.Source, Kind: string(d.Kind)}
		if d.Err != nil {
			dv.Error = d.Err.Error()
		}
		r.Diagnostics = append(r.Diagnostics, dv)
	}
	log.Info().Str("address", addr).Int("fields", len(rec.Populated())).Int("failures", len(r.Diagnostics)).Msg("enriched")
	return r
}
