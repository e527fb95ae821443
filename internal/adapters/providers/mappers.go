package providers

import (
	"math"
	"strconv"
	"strings"

	"propenrich/internal/domain"
)

/********** alias registries **********/

var lotAliases = map[string][]string{
	"lot_size":       {"lotSize", "lot_size", "lot.size_sqft", "parcel.lot_sqft", "land_sqft", "LandSqFt"},
	"parcel_number":  {"parcelNumber", "parcel_number", "apn", "parcel.apn", "account_num", "AccountNum"},
	"owner":          {"owner", "owner_name", "owner.name", "OwnerName"},
	"land_use":       {"landUse", "land_use", "land_use_desc", "parcel.land_use", "LandUseCode"},
	"interior_area":  {"interiorArea", "interior_area", "living_area", "building.living_sqft", "LivingArea"},
	"structure_area": {"structureArea", "structure_area", "building.gross_sqft", "gross_area"},
	"year_built":     {"yearBuilt", "year_built", "building.year_built", "YearBuilt"},
	"new_const":      {"newConstruction", "new_construction", "building.new_construction"},
}

var hazardAliases = map[string][]string{
	"wind": {"windSpeed", "wind_speed", "wind.speed", "wind.value", "data.wind.speed", "ultimateWindSpeed"},
	"snow": {"snowLoad", "snow_load", "snow.load", "snow.value", "data.snow.load", "groundSnowLoad"},
}

var solarAliases = map[string][]string{
	"sunshine": {"solarPotential.maxSunshineHoursPerYear", "maxSunshineHoursPerYear", "sunshine_hours"},
	"panels":   {"solarPotential.maxArrayPanelsCount", "maxArrayPanelsCount", "max_panels"},
	"area":     {"solarPotential.maxArrayAreaMeters2", "maxArrayAreaMeters2", "max_array_area"},
	"carbon":   {"solarPotential.carbonOffsetFactorKgPerMwh", "carbonOffsetFactorKgPerMwh", "carbon_offset"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// firstString: first non-empty string (or number rendered as string) among paths.
func firstString(m map[string]any, paths ...string) *string {
	for _, p := range paths {
		switch v := lookupAny(m, p).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return &s
			}
		case float64:
			s := strconv.FormatFloat(v, 'f', -1, 64)
			return &s
		}
	}
	return nil
}

// firstFloat: finite number from several paths; numeric strings like "12,500"
// are accepted, "NaN" and "Inf" are not.
func firstFloat(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		var f float64
		switch v := lookupAny(m, k).(type) {
		case float64:
			f = v
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
			if s == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return &f
	}
	return nil
}

// firstInt: like firstFloat, truncated; values outside int32 are skipped.
func firstInt(m map[string]any, paths ...string) *int {
	for _, k := range paths {
		f := firstFloat(m, k)
		if f == nil || *f < math.MinInt32 || *f > math.MaxInt32 {
			continue
		}
		n := int(*f)
		return &n
	}
	return nil
}

// firstTri: bool, "yes"/"no"/"true"/"false"/"y"/"n"; anything else is Unknown.
func firstTri(m map[string]any, paths ...string) domain.TriState {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case bool:
			return domain.TriOf(v)
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "y", "1":
				return domain.True
			case "false", "no", "n", "0":
				return domain.False
			}
		}
	}
	return domain.Unknown
}

/********** payload mappers **********/

func mapLotRecords(p map[string]any) domain.LotRecordsResult {
	return domain.LotRecordsResult{
		LotSize:         firstFloat(p, lotAliases["lot_size"]...),
		ParcelNumber:    firstString(p, lotAliases["parcel_number"]...),
		Owner:           firstString(p, lotAliases["owner"]...),
		LandUse:         firstString(p, lotAliases["land_use"]...),
		InteriorArea:    firstFloat(p, lotAliases["interior_area"]...),
		StructureArea:   firstFloat(p, lotAliases["structure_area"]...),
		YearBuilt:       firstInt(p, lotAliases["year_built"]...),
		NewConstruction: firstTri(p, lotAliases["new_const"]...),
	}
}

func mapHazard(std domain.HazardStandard, p map[string]any) domain.HazardResult {
	return domain.HazardResult{
		Standard:  std,
		WindSpeed: firstFloat(p, hazardAliases["wind"]...),
		SnowLoad:  firstFloat(p, hazardAliases["snow"]...),
	}
}

func mapSolar(p map[string]any) domain.SolarResult {
	return domain.SolarResult{
		SunshineHours: firstFloat(p, solarAliases["sunshine"]...),
		MaxPanels:     firstInt(p, solarAliases["panels"]...),
		MaxArrayArea:  firstFloat(p, solarAliases["area"]...),
		CarbonOffset:  firstFloat(p, solarAliases["carbon"]...),
	}
}
