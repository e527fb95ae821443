package domain

import (
	"context"
	"time"
)

type Geocoder interface {
	Resolve(ctx context.Context, address string) (Coords, error)
}

// Requirement is the context a fetcher needs before it can be invoked.
type Requirement int

const (
	RequiresAddress Requirement = iota
	RequiresCoordinates
)

// FetchContext is shared by every fetcher in a session.
type FetchContext struct {
	Address string
	Coords  *Coords // nil when geocoding failed
}

// Satisfies reports whether fc carries what r needs.
func (fc FetchContext) Satisfies(r Requirement) bool {
	switch r {
	case RequiresCoordinates:
		return fc.Address != "" && fc.Coords != nil
	default:
		return fc.Address != ""
	}
}

type SourceFetcher interface {
	Name() string
	Requires() Requirement
	Fetch(ctx context.Context, fc FetchContext) (Partial, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// SolarEstimate is the append-only downstream copy of a solar lookup.
type SolarEstimate struct {
	Address   string
	Coords    Coords
	Result    SolarResult
	FetchedAt time.Time
}

type SolarStore interface {
	AppendSolarEstimate(ctx context.Context, e SolarEstimate) error
}

// ArchivedRecord is a completed session's record as persisted.
type ArchivedRecord struct {
	SessionID   string
	Address     string
	Record      PropertyRecord
	CompletedAt time.Time
}

type RecordRepository interface {
	SaveRecord(ctx context.Context, a ArchivedRecord) error
	GetRecord(ctx context.Context, address string) (ArchivedRecord, error)
}
