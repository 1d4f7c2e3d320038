package services

import (
	"sort"
)

// Ressourcennamen, wie sie in Cache-Keys und API-Pfaden auftauchen.
const (
	ResourceBaseStudies = "base-studies"
	ResourceStudies     = "studies"
	ResourceAnalyses    = "analyses"
	ResourcePoints      = "points"
	ResourceImages      = "images"
	ResourceStudysets   = "studysets"
	ResourceAnnotations = "annotations"
)

// IDSet ist eine Menge von Datensatz-IDs.
type IDSet map[uint]struct{}

// Slice gibt die IDs sortiert zurück (deterministische Reihenfolge für
// SQL-IN-Listen und Tests).
func (s IDSet) Slice() []uint {
	out := make([]uint, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AffectedIDs sammelt pro Ressource die IDs, deren gecachte Repräsentationen
// bzw. abgeleitete Flags von einem Write betroffen sind.
type AffectedIDs map[string]IDSet

// Add fügt IDs für eine Ressource hinzu.
func (a AffectedIDs) Add(resource string, ids ...uint) {
	if len(ids) == 0 {
		return
	}
	set, ok := a[resource]
	if !ok {
		set = IDSet{}
		a[resource] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Has prüft, ob eine ID für die Ressource enthalten ist.
func (a AffectedIDs) Has(resource string, id uint) bool {
	set, ok := a[resource]
	if !ok {
		return false
	}
	_, ok = set[id]
	return ok
}

// IDs gibt die sortierten IDs einer Ressource zurück.
func (a AffectedIDs) IDs(resource string) []uint {
	return a[resource].Slice()
}

// Empty prüft, ob keinerlei IDs gesammelt wurden.
func (a AffectedIDs) Empty() bool {
	for _, set := range a {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// PerResource konvertiert in die map-Form, die der Cache-Version-Store
// erwartet.
func (a AffectedIDs) PerResource() map[string][]uint {
	out := make(map[string][]uint, len(a))
	for resource, set := range a {
		if len(set) == 0 {
			continue
		}
		out[resource] = set.Slice()
	}
	return out
}

// MergeUniqueIDs vereinigt mehrere AffectedIDs-Maps (Union der Mengen).
// Typischer Einsatz: Pre-Write- und Post-Write-Snapshot eines Writes, der
// Beziehungen ändert und damit vor und nach dem Write unterschiedliche
// Eltern berührt.
func MergeUniqueIDs(mappings ...AffectedIDs) AffectedIDs {
	merged := AffectedIDs{}
	for _, m := range mappings {
		for resource, set := range m {
			merged.Add(resource, set.Slice()...)
		}
	}
	return merged
}
