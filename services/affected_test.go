package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAffectedIDsAddAndHas(t *testing.T) {
	a := AffectedIDs{}
	assert.True(t, a.Empty())

	a.Add(ResourceStudies, 3, 1, 2)
	a.Add(ResourceStudies, 2) // Duplikat
	a.Add(ResourceBaseStudies)

	assert.False(t, a.Empty())
	assert.True(t, a.Has(ResourceStudies, 1))
	assert.False(t, a.Has(ResourceStudies, 4))
	assert.False(t, a.Has(ResourceBaseStudies, 1))
	assert.Equal(t, []uint{1, 2, 3}, a.IDs(ResourceStudies))
}

func TestAffectedIDsPerResource(t *testing.T) {
	a := AffectedIDs{}
	a.Add(ResourcePoints, 9, 5)
	a.Add(ResourceAnnotations) // leer, darf nicht auftauchen

	per := a.PerResource()
	assert.Equal(t, map[string][]uint{ResourcePoints: {5, 9}}, per)
}

func TestMergeUniqueIDs(t *testing.T) {
	pre := AffectedIDs{}
	pre.Add(ResourceStudies, 1)
	pre.Add(ResourceBaseStudies, 10)

	post := AffectedIDs{}
	post.Add(ResourceStudies, 1, 2)
	post.Add(ResourceStudysets, 100)

	merged := MergeUniqueIDs(pre, post)
	assert.Equal(t, []uint{1, 2}, merged.IDs(ResourceStudies))
	assert.Equal(t, []uint{10}, merged.IDs(ResourceBaseStudies))
	assert.Equal(t, []uint{100}, merged.IDs(ResourceStudysets))

	// Eingaben bleiben unverändert.
	assert.Equal(t, []uint{1}, pre.IDs(ResourceStudies))
}

func TestMergeUniqueIDsEmpty(t *testing.T) {
	merged := MergeUniqueIDs()
	assert.True(t, merged.Empty())

	merged = MergeUniqueIDs(AffectedIDs{}, AffectedIDs{})
	assert.True(t, merged.Empty())
}
