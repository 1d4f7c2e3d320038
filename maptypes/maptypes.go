package maptypes

import "strings"

// Class ist eine Gruppe von value_type-Codes für statistische Karten.
type Class string

const (
	ClassZ        Class = "Z"
	ClassT        Class = "T"
	ClassBeta     Class = "Beta"
	ClassVariance Class = "Variance"
	ClassOther    Class = "Other"
)

// Akzeptierte value_type-Codes pro Klasse. Die Codes entsprechen den
// NeuroVault-Map-Typen; alles Unbekannte landet in "Other".
var (
	ZCodes        = []string{"Z", "Z map", "Z-map", "zstat"}
	TCodes        = []string{"T", "T map", "T-map", "tstat"}
	BetaCodes     = []string{"Beta", "beta map", "parameter estimate", "univariate-beta map", "cope"}
	VarianceCodes = []string{"Variance", "variance map", "varcope"}
)

var classByCode = buildIndex()

func buildIndex() map[string]Class {
	idx := make(map[string]Class)
	for _, c := range ZCodes {
		idx[normalize(c)] = ClassZ
	}
	for _, c := range TCodes {
		idx[normalize(c)] = ClassT
	}
	for _, c := range BetaCodes {
		idx[normalize(c)] = ClassBeta
	}
	for _, c := range VarianceCodes {
		idx[normalize(c)] = ClassVariance
	}
	return idx
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ClassOf bestimmt die Klasse eines value_type-Codes.
func ClassOf(valueType string) Class {
	if c, ok := classByCode[normalize(valueType)]; ok {
		return c
	}
	return ClassOther
}

// Canonicalize bildet einen rohen value_type auf den kanonischen Code seiner
// Klasse ab. Unbekannte Codes werden unverändert zurückgegeben, damit keine
// Information verloren geht.
func Canonicalize(valueType string) string {
	switch ClassOf(valueType) {
	case ClassZ:
		return ZCodes[0]
	case ClassT:
		return TCodes[0]
	case ClassBeta:
		return BetaCodes[0]
	case ClassVariance:
		return VarianceCodes[0]
	default:
		return strings.TrimSpace(valueType)
	}
}
