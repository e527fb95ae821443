package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"propenrich/internal/domain"
)

var (
	errNoFields = errors.New("payload carried none of the expected fields")
	errNoCoords = errors.New("coordinates required")
)

// LotRecords queries a parcel / assessor endpoint by street address.
type LotRecords struct {
	name string
	base string
	c    *Client
}

// NewLotRecords returns a lot-records fetcher. name distinguishes several
// lot-record sources in provenance and precedence.
func NewLotRecords(name, base string, c *Client) *LotRecords {
	return &LotRecords{name: name, base: base, c: c}
}

func (p *LotRecords) Name() string                 { return p.name }
func (p *LotRecords) Requires() domain.Requirement { return domain.RequiresAddress }

func (p *LotRecords) Fetch(ctx context.Context, fc domain.FetchContext) (domain.Partial, error) {
	var payload map[string]any
	if err := p.c.GetJSON(ctx, p.name, p.base, url.Values{"address": {fc.Address}}, &payload); err != nil {
		return nil, err
	}
	res := mapLotRecords(payload)
	if len(res.Fields()) == 0 {
		return nil, domain.Malformed(fmt.Errorf("%s: %w", p.name, errNoFields))
	}
	return res, nil
}

// Hazard queries a wind/snow design-load endpoint by coordinates for one standard.
type Hazard struct {
	name     string
	base     string
	standard domain.HazardStandard
	c        *Client
}

func NewHazard(name, base string, std domain.HazardStandard, c *Client) *Hazard {
	return &Hazard{name: name, base: base, standard: std, c: c}
}

func (p *Hazard) Name() string                 { return p.name }
func (p *Hazard) Requires() domain.Requirement { return domain.RequiresCoordinates }

func (p *Hazard) Fetch(ctx context.Context, fc domain.FetchContext) (domain.Partial, error) {
	if fc.Coords == nil {
		return nil, errNoCoords
	}
	params := coordParams(*fc.Coords)
	params.Set("standard", string(p.standard))
	var payload map[string]any
	if err := p.c.GetJSON(ctx, p.name, p.base, params, &payload); err != nil {
		return nil, err
	}
	res := mapHazard(p.standard, payload)
	if len(res.Fields()) == 0 {
		return nil, domain.Malformed(fmt.Errorf("%s: %w", p.name, errNoFields))
	}
	return res, nil
}

// Solar queries a rooftop solar-potential endpoint by coordinates. Successful
// lookups are also appended to the downstream SolarStore.
type Solar struct {
	name  string
	base  string
	c     *Client
	store domain.SolarStore
	now   func() time.Time
}

// NewSolar returns a solar fetcher; store may be nil.
func NewSolar(name, base string, c *Client, store domain.SolarStore) *Solar {
	return &Solar{name: name, base: base, c: c, store: store, now: time.Now}
}

func (p *Solar) Name() string                 { return p.name }
func (p *Solar) Requires() domain.Requirement { return domain.RequiresCoordinates }

func (p *Solar) Fetch(ctx context.Context, fc domain.FetchContext) (domain.Partial, error) {
	if fc.Coords == nil {
		return nil, errNoCoords
	}
	var payload map[string]any
	if err := p.c.GetJSON(ctx, p.name, p.base, coordParams(*fc.Coords), &payload); err != nil {
		return nil, err
	}
	res := mapSolar(payload)
	if len(res.Fields()) == 0 {
		return nil, domain.Malformed(fmt.Errorf("%s: %w", p.name, errNoFields))
	}

	if p.store != nil {
		est := domain.SolarEstimate{Address: fc.Address, Coords: *fc.Coords, Result: res, FetchedAt: p.now().UTC()}
		if err := p.store.AppendSolarEstimate(ctx, est); err != nil {
			// downstream write is independent of the record merge
			log.Warn().Err(err).Str("source", p.name).Str("address", fc.Address).Msg("solar estimate not persisted")
		}
	}
	return res, nil
}

func coordParams(c domain.Coords) url.Values {
	return url.Values{
		"lat": {strconv.FormatFloat(c.Lat, 'f', 6, 64)},
		"lng": {strconv.FormatFloat(c.Lng, 'f', 6, 64)},
	}
}
