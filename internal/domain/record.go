package domain

import (
	"encoding/json"
	"strings"
)

// Field names a scalar slot of a PropertyRecord. Values match the JSON keys.
type Field string

const (
	FieldLotSize         Field = "lotSize"
	FieldParcelNumber    Field = "parcelNumber"
	FieldOwner           Field = "owner"
	FieldLandUse         Field = "landUse"
	FieldInteriorArea    Field = "interiorArea"
	FieldStructureArea   Field = "structureArea"
	FieldYearBuilt       Field = "yearBuilt"
	FieldNewConstruction Field = "newConstruction"

	// ASCE 7-22 (unsuffixed) and ASCE 7-16 hazard values.
	FieldWindSpeed    Field = "windSpeed"
	FieldSnowLoad     Field = "snowLoad"
	FieldWindSpeed716 Field = "windSpeed716"
	FieldSnowLoad716  Field = "snowLoad716"

	FieldSunshineHours Field = "sunshineHours"
	FieldMaxPanels     Field = "maxPanels"
	FieldMaxArrayArea  Field = "maxArrayArea"
	FieldCarbonOffset  Field = "carbonOffset"
)

// TriState is a nullable boolean. The zero value is Unknown.
type TriState int8

const (
	Unknown TriState = iota
	True
	False
)

func TriOf(b bool) TriState {
	if b {
		return True
	}
	return False
}

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Unknown as null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (t *TriState) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true":
		*t = True
	case "false":
		*t = False
	default:
		*t = Unknown
	}
	return nil
}

type Coords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PropertyRecord is the merged enrichment result for one address.
// Pointer fields are nil until some source supplies them.
type PropertyRecord struct {
	Address string `json:"address"`

	LotSize         *float64 `json:"lotSize"`
	ParcelNumber    *string  `json:"parcelNumber"`
	Owner           *string  `json:"owner"`
	LandUse         *string  `json:"landUse"`
	InteriorArea    *float64 `json:"interiorArea"`
	StructureArea   *float64 `json:"structureArea"`
	YearBuilt       *int     `json:"yearBuilt"`
	NewConstruction TriState `json:"newConstruction"`

	WindSpeed    *float64 `json:"windSpeed"`
	SnowLoad     *float64 `json:"snowLoad"`
	WindSpeed716 *float64 `json:"windSpeed716"`
	SnowLoad716  *float64 `json:"snowLoad716"`

	SunshineHours *float64 `json:"sunshineHours"`
	MaxPanels     *int     `json:"maxPanels"`
	MaxArrayArea  *float64 `json:"maxArrayArea"`
	CarbonOffset  *float64 `json:"carbonOffset"`

	// Sources holds, per source name, the values that source supplied, typed
	// as Set expects them.
	Sources map[string]map[Field]any `json:"sources"`
}

// NewRecord returns an empty record for address.
func NewRecord(address string) PropertyRecord {
	return PropertyRecord{Address: address, Sources: map[string]map[Field]any{}}
}

// Set writes v into field f. Values must carry the field's Go type
// (float64, string, int or TriState); anything else is ignored and
// reported as false.
func (r *PropertyRecord) Set(f Field, v any) bool {
	switch f {
	case FieldLotSize:
		return setPtr(&r.LotSize, v)
	case FieldParcelNumber:
		return setPtr(&r.ParcelNumber, v)
	case FieldOwner:
		return setPtr(&r.Owner, v)
	case FieldLandUse:
		return setPtr(&r.LandUse, v)
	case FieldInteriorArea:
		return setPtr(&r.InteriorArea, v)
	case FieldStructureArea:
		return setPtr(&r.StructureArea, v)
	case FieldYearBuilt:
		return setPtr(&r.YearBuilt, v)
	case FieldNewConstruction:
		t, ok := v.(TriState)
		if ok {
			r.NewConstruction = t
		}
		return ok
	case FieldWindSpeed:
		return setPtr(&r.WindSpeed, v)
	case FieldSnowLoad:
		return setPtr(&r.SnowLoad, v)
	case FieldWindSpeed716:
		return setPtr(&r.WindSpeed716, v)
	case FieldSnowLoad716:
		return setPtr(&r.SnowLoad716, v)
	case FieldSunshineHours:
		return setPtr(&r.SunshineHours, v)
	case FieldMaxPanels:
		return setPtr(&r.MaxPanels, v)
	case FieldMaxArrayArea:
		return setPtr(&r.MaxArrayArea, v)
	case FieldCarbonOffset:
		return setPtr(&r.CarbonOffset, v)
	}
	return false
}

func setPtr[T any](dst **T, v any) bool {
	x, ok := v.(T)
	if !ok {
		return false
	}
	*dst = &x
	return true
}

// Populated lists the fields that currently hold a value.
func (r PropertyRecord) Populated() []Field {
	var out []Field
	add := func(f Field, set bool) {
		if set {
			out = append(out, f)
		}
	}
	add(FieldLotSize, r.LotSize != nil)
	add(FieldParcelNumber, r.ParcelNumber != nil)
	add(FieldOwner, r.Owner != nil)
	add(FieldLandUse, r.LandUse != nil)
	add(FieldInteriorArea, r.InteriorArea != nil)
	add(FieldStructureArea, r.StructureArea != nil)
	add(FieldYearBuilt, r.YearBuilt != nil)
	add(FieldNewConstruction, r.NewConstruction != Unknown)
	add(FieldWindSpeed, r.WindSpeed != nil)
	add(FieldSnowLoad, r.SnowLoad != nil)
	add(FieldWindSpeed716, r.WindSpeed716 != nil)
	add(FieldSnowLoad716, r.SnowLoad716 != nil)
	add(FieldSunshineHours, r.SunshineHours != nil)
	add(FieldMaxPanels, r.MaxPanels != nil)
	add(FieldMaxArrayArea, r.MaxArrayArea != nil)
	add(FieldCarbonOffset, r.CarbonOffset != nil)
	return out
}

// Clone returns a copy that shares nothing mutable with r. Scalar pointers
// are never written through, so only the provenance maps need copying.
func (r PropertyRecord) Clone() PropertyRecord {
	out := r
	out.Sources = make(map[string]map[Field]any, len(r.Sources))
	for src, fields := range r.Sources {
		cp := make(map[Field]any, len(fields))
		for f, v := range fields {
			cp[f] = v
		}
		out.Sources[src] = cp
	}
	return out
}

// UnmarshalJSON restores provenance values to their Go types so a record
// read back from a cache or archive equals the one that was written.
func (r *PropertyRecord) UnmarshalJSON(b []byte) error {
	type plain PropertyRecord
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	for _, fields := range p.Sources {
		for f, v := range fields {
			fields[f] = typedValue(f, v)
		}
	}
	*r = PropertyRecord(p)
	return nil
}

func typedValue(f Field, v any) any {
	switch f {
	case FieldYearBuilt, FieldMaxPanels:
		if x, ok := v.(float64); ok {
			return int(x)
		}
	case FieldNewConstruction:
		switch x := v.(type) {
		case bool:
			return TriOf(x)
		case nil:
			return Unknown
		}
	}
	return v
}

// NormalizeAddress folds case and collapses whitespace. It is used for cache
// and storage keys only; records keep the address as entered.
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}
