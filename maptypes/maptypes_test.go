package maptypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassZ, ClassOf("Z"))
	assert.Equal(t, ClassZ, ClassOf("zstat"))
	assert.Equal(t, ClassZ, ClassOf("  Z map  "))
	assert.Equal(t, ClassT, ClassOf("T-map"))
	assert.Equal(t, ClassBeta, ClassOf("univariate-beta map"))
	assert.Equal(t, ClassBeta, ClassOf("COPE"))
	assert.Equal(t, ClassVariance, ClassOf("varcope"))
	assert.Equal(t, ClassOther, ClassOf("p map"))
	assert.Equal(t, ClassOther, ClassOf(""))
}

func TestClassOfIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, ClassZ, ClassOf("ZSTAT"))
	assert.Equal(t, ClassVariance, ClassOf("Variance Map"))
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "Z", Canonicalize("zstat"))
	assert.Equal(t, "Z", Canonicalize("Z-map"))
	assert.Equal(t, "T", Canonicalize("tstat"))
	assert.Equal(t, "Beta", Canonicalize("parameter estimate"))
	assert.Equal(t, "Variance", Canonicalize("varcope"))

	// Unbekannte Codes bleiben erhalten, nur getrimmt.
	assert.Equal(t, "p map", Canonicalize("  p map "))
	assert.Equal(t, "", Canonicalize(""))
}
