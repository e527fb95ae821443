// Package geocoder resolves street addresses to coordinates.
package geocoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"propenrich/internal/adapters/observability"
	"propenrich/internal/adapters/providers"
	"propenrich/internal/domain"
)

const censusBenchmark = "Public_AR_Current"

// oneLineResponse is the Census one-line geocoder payload (subset).
type oneLineResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
			MatchedAddress string `json:"matchedAddress"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Client geocodes through a Census-style one-line-address endpoint.
type Client struct {
	base string
	c    *providers.Client
}

func New(base string, c *providers.Client) *Client {
	return &Client{base: base, c: c}
}

func (g *Client) Resolve(ctx context.Context, address string) (domain.Coords, error) {
	params := url.Values{
		"address":   {address},
		"benchmark": {censusBenchmark},
		"format":    {"json"},
	}
	var resp oneLineResponse
	if err := g.c.GetJSON(ctx, "geocoder", g.base, params, &resp); err != nil {
		return domain.Coords{}, fmt.Errorf("%w: %w", domain.ErrGeocodeFailed, err)
	}
	if len(resp.Result.AddressMatches) == 0 {
		return domain.Coords{}, fmt.Errorf("%w: no match for %q", domain.ErrGeocodeFailed, address)
	}
	m := resp.Result.AddressMatches[0]
	log.Debug().Str("address", address).Str("matched", m.MatchedAddress).Msg("geocoded")
	return domain.Coords{Lat: m.Coordinates.Y, Lng: m.Coordinates.X}, nil
}

// Cached wraps a Geocoder with a read-through cache. Failures are not cached.
type Cached struct {
	next  domain.Geocoder
	cache domain.Cache
	ttl   time.Duration
}

func NewCached(next domain.Geocoder, cache domain.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (g *Cached) Resolve(ctx context.Context, address string) (domain.Coords, error) {
	key := CacheKey(address)
	var c domain.Coords
	if ok, err := g.cache.Get(ctx, key, &c); err != nil {
		log.Warn().Err(err).Msg("geocode cache read failed")
	} else if ok {
		observability.ObserveCache("geocode", "hit")
		return c, nil
	}
	observability.ObserveCache("geocode", "miss")

	c, err := g.next.Resolve(ctx, address)
	if err != nil {
		if !errors.Is(err, domain.ErrGeocodeFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrGeocodeFailed, err)
		}
		return domain.Coords{}, err
	}
	if err := g.cache.Set(ctx, key, c, int(g.ttl.Seconds())); err != nil {
		log.Warn().Err(err).Msg("geocode cache write failed")
	}
	return c, nil
}

// CacheKey normalizes case and whitespace so trivially different spellings
// of one address share an entry.
func CacheKey(address string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeAddress(address)))
	return "geocode:" + hex.EncodeToString(sum[:])
}
