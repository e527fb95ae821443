package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"propenrich/internal/domain"
)

// drainTimeout bounds how long Run keeps saving queued records after its
// context ends.
const drainTimeout = 5 * time.Second

// Archiver persists every completed record. Its bus handler only enqueues, so
// publishing never waits on the database.
type Archiver struct {
	repo  domain.RecordRepository
	cache domain.Cache
	queue chan Event
	now   func() time.Time
}

func NewArchiver(r domain.RecordRepository, c domain.Cache, buffer int) *Archiver {
	if buffer <= 0 {
		buffer = 64
	}
	return &Archiver{repo: r, cache: c, queue: make(chan Event, buffer), now: time.Now}
}

// Attach subscribes the archiver to completed events on b.
func (a *Archiver) Attach(b *Bus) (unsubscribe func()) {
	return b.Subscribe(a.handle)
}

func (a *Archiver) handle(e Event) {
	if e.Kind != EventCompleted {
		return
	}
	select {
	case a.queue <- e:
	default:
		log.Warn().Str("session", e.Session).Msg("archive queue full; record dropped")
	}
}

// Run archives queued records until ctx is done, then saves whatever is
// still queued within drainTimeout before returning.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain(ctx)
			return
		case e := <-a.queue:
			a.save(ctx, e)
		}
	}
}

func (a *Archiver) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-a.queue:
			if dctx.Err() != nil {
				log.Warn().Int("dropped", len(a.queue)+1).Msg("archive drain timed out")
				return
			}
			a.save(dctx, e)
		default:
			return
		}
	}
}

func (a *Archiver) save(ctx context.Context, e Event) {
	if err := a.Archive(ctx, e); err != nil {
		log.Error().Err(err).Str("session", e.Session).Msg("archive failed")
	}
}

// Archive saves the record carried by a completed event and evicts the
// cached copy for its address.
func (a *Archiver) Archive(ctx context.Context, e Event) error {
	rec := domain.ArchivedRecord{
		SessionID:   e.Session,
		Address:     e.Address,
		Record:      e.Record.Clone(),
		CompletedAt: a.now().UTC(),
	}
	if err := a.repo.SaveRecord(ctx, rec); err != nil {
		return err
	}
	if a.cache != nil {
		_ = a.cache.Del(ctx, recordKey(e.Address))
	}
	log.Info().Str("session", e.Session).Int("sources", len(e.Record.Sources)).Msg("record archived")
	return nil
}
