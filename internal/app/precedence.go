package app

import "propenrich/internal/domain"

// Default source names.
const (
	SourceLotRecords     = "lot-records"
	SourceCountyAssessor = "county-assessor"
	SourceHazardV1       = "hazard-asce716"
	SourceHazardV2       = "hazard-asce722"
	SourceSolar          = "solar-potential"
)

// Precedence declares, per field, which sources win a conflict, best first.
// Sources not listed for a field rank after every listed one; among those
// the lexically smallest name wins. Arrival order never matters.
type Precedence map[domain.Field][]string

// DefaultPrecedence is the table used when none is configured.
func DefaultPrecedence() Precedence {
	lot := []string{SourceLotRecords, SourceCountyAssessor}
	return Precedence{
		domain.FieldLotSize:         lot,
		domain.FieldParcelNumber:    lot,
		domain.FieldOwner:           lot,
		domain.FieldLandUse:         lot,
		domain.FieldInteriorArea:    lot,
		domain.FieldStructureArea:   lot,
		domain.FieldYearBuilt:       lot,
		domain.FieldNewConstruction: lot,

		domain.FieldWindSpeed716: {SourceHazardV1},
		domain.FieldSnowLoad716:  {SourceHazardV1},
		domain.FieldWindSpeed:    {SourceHazardV2},
		domain.FieldSnowLoad:     {SourceHazardV2},

		domain.FieldSunshineHours: {SourceSolar},
		domain.FieldMaxPanels:     {SourceSolar},
		domain.FieldMaxArrayArea:  {SourceSolar},
		domain.FieldCarbonOffset:  {SourceSolar},
	}
}

// Outranks reports whether challenger should replace holder as the owner of f.
// A source always outranks itself so re-applying a result is a no-op rewrite.
func (p Precedence) Outranks(f domain.Field, challenger, holder string) bool {
	if holder == "" || challenger == holder {
		return true
	}
	ci, hi := p.rank(f, challenger), p.rank(f, holder)
	if ci != hi {
		return ci < hi
	}
	return challenger < holder
}

func (p Precedence) rank(f domain.Field, source string) int {
	order := p[f]
	for i, s := range order {
		if s == source {
			return i
		}
	}
	return len(order)
}
