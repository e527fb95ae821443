package domain

// Partial is what a single source contributes to a PropertyRecord.
// The set of implementations is closed: LotRecordsResult, HazardResult, SolarResult.
type Partial interface {
	// Fields returns only the fields this result actually carries.
	Fields() map[Field]any
	partial()
}

// LotRecordsResult comes from parcel / assessor style providers.
type LotRecordsResult struct {
	LotSize         *float64
	ParcelNumber    *string
	Owner           *string
	LandUse         *string
	InteriorArea    *float64
	StructureArea   *float64
	YearBuilt       *int
	NewConstruction TriState
}

func (LotRecordsResult) partial() {}

func (r LotRecordsResult) Fields() map[Field]any {
	m := map[Field]any{}
	putPtr(m, FieldLotSize, r.LotSize)
	putPtr(m, FieldParcelNumber, r.ParcelNumber)
	putPtr(m, FieldOwner, r.Owner)
	putPtr(m, FieldLandUse, r.LandUse)
	putPtr(m, FieldInteriorArea, r.InteriorArea)
	putPtr(m, FieldStructureArea, r.StructureArea)
	putPtr(m, FieldYearBuilt, r.YearBuilt)
	if r.NewConstruction != Unknown {
		m[FieldNewConstruction] = r.NewConstruction
	}
	return m
}

// HazardStandard selects the field namespace a HazardResult writes to.
type HazardStandard string

const (
	ASCE716 HazardStandard = "ASCE7-16"
	ASCE722 HazardStandard = "ASCE7-22"
)

// HazardResult carries a wind/snow pair for one design standard.
type HazardResult struct {
	Standard  HazardStandard
	WindSpeed *float64 // mph
	SnowLoad  *float64 // psf
}

func (HazardResult) partial() {}

func (r HazardResult) Fields() map[Field]any {
	m := map[Field]any{}
	switch r.Standard {
	case ASCE716:
		putPtr(m, FieldWindSpeed716, r.WindSpeed)
		putPtr(m, FieldSnowLoad716, r.SnowLoad)
	case ASCE722:
		putPtr(m, FieldWindSpeed, r.WindSpeed)
		putPtr(m, FieldSnowLoad, r.SnowLoad)
	}
	return m
}

// SolarResult carries rooftop solar potential figures.
type SolarResult struct {
	SunshineHours *float64 // max sunshine hours per year
	MaxPanels     *int
	MaxArrayArea  *float64 // m2
	CarbonOffset  *float64 // kg per MWh
}

func (SolarResult) partial() {}

func (r SolarResult) Fields() map[Field]any {
	m := map[Field]any{}
	putPtr(m, FieldSunshineHours, r.SunshineHours)
	putPtr(m, FieldMaxPanels, r.MaxPanels)
	putPtr(m, FieldMaxArrayArea, r.MaxArrayArea)
	putPtr(m, FieldCarbonOffset, r.CarbonOffset)
	return m
}

func putPtr[T any](m map[Field]any, f Field, p *T) {
	if p != nil {
		m[f] = *p
	}
}
