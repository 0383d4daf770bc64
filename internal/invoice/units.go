package invoice

import "strings"

// StandardUnit is the normalized unit used to compare material costs
type StandardUnit string

const (
	UnitEach     StandardUnit = "UN"
	UnitMeter    StandardUnit = "MT"
	UnitKilogram StandardUnit = "KG"
	UnitLiter    StandardUnit = "LT"
)

var unitAliases = map[string]StandardUnit{
	"UN":       UnitEach,
	"UNIT":     UnitEach,
	"UNIDADE":  UnitEach,
	"MT":       UnitMeter,
	"M":        UnitMeter,
	"METER":    UnitMeter,
	"METRO":    UnitMeter,
	"KG":       UnitKilogram,
	"KILOGRAM": UnitKilogram,
	"QUILO":    UnitKilogram,
	"LT":       UnitLiter,
	"L":        UnitLiter,
	"LITER":    UnitLiter,
	"LITRO":    UnitLiter,
}

// ParseStandardUnit maps a code or name onto the standard vocabulary.
// Unknown values are returned upper-cased with ok == false.
func ParseStandardUnit(s string) (StandardUnit, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if u, ok := unitAliases[key]; ok {
		return u, true
	}
	return StandardUnit(key), false
}
