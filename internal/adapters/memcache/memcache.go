// Package memcache is a process-local cache tier in front of a shared cache.
package memcache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"propenrich/internal/adapters/observability"
	"propenrich/internal/domain"
)

// Tiered serves reads from memory first and falls back to next. Values are
// held as JSON so callers never share a decoded value.
type Tiered struct {
	mem  *gocache.Cache
	ttl  time.Duration
	next domain.Cache // may be nil
}

func New(ttl time.Duration, next domain.Cache) *Tiered {
	return &Tiered{mem: gocache.New(ttl, 2*ttl), ttl: ttl, next: next}
}

func (t *Tiered) Get(ctx context.Context, key string, dst any) (bool, error) {
	if v, ok := t.mem.Get(key); ok {
		observability.ObserveCache("memory", "hit")
		return true, json.Unmarshal(v.([]byte), dst)
	}
	observability.ObserveCache("memory", "miss")
	if t.next == nil {
		return false, nil
	}
	ok, err := t.next.Get(ctx, key, dst)
	if err != nil || !ok {
		return ok, err
	}
	if b, err := json.Marshal(dst); err == nil {
		t.mem.Set(key, b, t.ttl)
	}
	return true, nil
}

// Set writes both tiers. The memory copy uses the tier's own ttl, capped by
// ttlSec when that is shorter.
func (t *Tiered) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ttl := t.ttl
	if d := time.Duration(ttlSec) * time.Second; d > 0 && d < ttl {
		ttl = d
	}
	t.mem.Set(key, b, ttl)
	if t.next == nil {
		return nil
	}
	if err := t.next.Set(ctx, key, v, ttlSec); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("shared cache write failed")
		return err
	}
	return nil
}

func (t *Tiered) Del(ctx context.Context, key string) error {
	t.mem.Delete(key)
	if t.next == nil {
		return nil
	}
	return t.next.Del(ctx, key)
}

// Flush drops the memory tier only.
func (t *Tiered) Flush() { t.mem.Flush() }
