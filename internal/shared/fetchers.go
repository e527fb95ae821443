package shared

import (
	"propenrich/internal/adapters/providers"
	"propenrich/internal/app"
	"propenrich/internal/domain"
)

// Fetchers builds the configured source fetchers. Providers without a URL
// are left out; Load has already warned about them.
func Fetchers(c Config, client *providers.Client, solar domain.SolarStore) []domain.SourceFetcher {
	var out []domain.SourceFetcher
	if c.LotRecordsURL != "" {
		out = append(out, providers.NewLotRecords(app.SourceLotRecords, c.LotRecordsURL, client))
	}
	if c.AssessorURL != "" {
		out = append(out, providers.NewLotRecords(app.SourceCountyAssessor, c.AssessorURL, client))
	}
	if c.HazardV1URL != "" {
		out = append(out, providers.NewHazard(app.SourceHazardV1, c.HazardV1URL, domain.ASCE716, client))
	}
	if c.HazardV2URL != "" {
		out = append(out, providers.NewHazard(app.SourceHazardV2, c.HazardV2URL, domain.ASCE722, client))
	}
	if c.SolarURL != "" {
		out = append(out, providers.NewSolar(app.SourceSolar, c.SolarURL, client, solar))
	}
	return out
}
