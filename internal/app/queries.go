package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"propenrich/internal/domain"
)

// QueryService reads archived records through the cache.
type QueryService struct {
	repo     domain.RecordRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.RecordRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

func recordKey(address string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeAddress(address)))
	return "record:" + hex.EncodeToString(sum[:])
}

// GetRecord returns the last completed record for address, or
// domain.ErrNotFound.
func (s *QueryService) GetRecord(ctx context.Context, address string) (domain.ArchivedRecord, error) {
	key := recordKey(address)
	var a domain.ArchivedRecord
	if s.cache != nil {
		if ok, err := s.cache.Get(ctx, key, &a); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("record cache read failed")
		} else if ok {
			return a, nil
		}
	}
	a, err := s.repo.GetRecord(ctx, address)
	if err != nil {
		return domain.ArchivedRecord{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, a, int(s.cacheTTL.Seconds()))
	}
	return cloneArchived(a), nil
}

// cloneArchived keeps callers from mutating what the cache may hold.
func cloneArchived(a domain.ArchivedRecord) domain.ArchivedRecord {
	a.Record = a.Record.Clone()
	return a
}
