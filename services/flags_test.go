package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"neurostore/models"
	"neurostore/testutil"
)

// seedBaseStudy legt eine BaseStudy mit einer Study und einer Analyse an.
func seedBaseStudy(t *testing.T, tx *gorm.DB) (*models.BaseStudy, *models.Study, *models.Analysis) {
	t.Helper()
	bs := &models.BaseStudy{Name: "Example Study", IsActive: true}
	require.NoError(t, tx.Create(bs).Error)
	st := &models.Study{BaseStudyID: bs.ID, Source: "neurosynth"}
	require.NoError(t, tx.Create(st).Error)
	an := &models.Analysis{StudyID: st.ID, Name: "analysis 1"}
	require.NoError(t, tx.Create(an).Error)
	return bs, st, an
}

func TestRecomputeMediaFlagsCoordinates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	bs, st, an := seedBaseStudy(t, tx)
	require.NoError(t, tx.Create(&models.Point{AnalysisID: an.ID, X: 1, Y: 2, Z: 3}).Error)

	changed, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)
	assert.True(t, changed.Has(ResourceAnalyses, an.ID))
	assert.True(t, changed.Has(ResourceStudies, st.ID))
	assert.True(t, changed.Has(ResourceBaseStudies, bs.ID))

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.True(t, got.HasCoordinates)
	assert.False(t, got.HasImages)
	assert.False(t, got.HasZMaps)
}

func TestRecomputeMediaFlagsMapClasses(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	bs, _, an := seedBaseStudy(t, tx)
	require.NoError(t, tx.Create(&models.Image{AnalysisID: an.ID, ValueType: "zstat"}).Error)
	require.NoError(t, tx.Create(&models.Image{AnalysisID: an.ID, ValueType: "cope"}).Error)

	_, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.True(t, got.HasImages)
	assert.True(t, got.HasZMaps)
	assert.False(t, got.HasTMaps)
	// Beta allein reicht nicht, es braucht Beta UND Variance.
	assert.False(t, got.HasBetaAndVarianceMaps)

	require.NoError(t, tx.Create(&models.Image{AnalysisID: an.ID, ValueType: "varcope"}).Error)
	_, err = svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.True(t, got.HasBetaAndVarianceMaps)
}

func TestRecomputeMediaFlagsAggregatesAcrossStudies(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	// Eine BaseStudy mit zwei Versionen: nur eine hat Koordinaten.
	bs, st1, an1 := seedBaseStudy(t, tx)
	st2 := &models.Study{BaseStudyID: bs.ID, Source: "ace"}
	require.NoError(t, tx.Create(st2).Error)
	an2 := &models.Analysis{StudyID: st2.ID}
	require.NoError(t, tx.Create(an2).Error)
	require.NoError(t, tx.Create(&models.Point{AnalysisID: an1.ID}).Error)

	_, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)

	var gotS1, gotS2 models.Study
	require.NoError(t, tx.First(&gotS1, st1.ID).Error)
	require.NoError(t, tx.First(&gotS2, st2.ID).Error)
	assert.True(t, gotS1.HasCoordinates)
	assert.False(t, gotS2.HasCoordinates)

	var gotBS models.BaseStudy
	require.NoError(t, tx.First(&gotBS, bs.ID).Error)
	assert.True(t, gotBS.HasCoordinates)
}

func TestRecomputeMediaFlagsClearsStaleFlags(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	bs, _, an := seedBaseStudy(t, tx)
	pt := &models.Point{AnalysisID: an.ID}
	require.NoError(t, tx.Create(pt).Error)
	_, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)

	// Letzter Point weg -> Flags müssen zurück auf false.
	require.NoError(t, tx.Delete(pt).Error)
	changed, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)
	assert.True(t, changed.Has(ResourceBaseStudies, bs.ID))

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.False(t, got.HasCoordinates)
}

func TestRecomputeMediaFlagsIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	bs, _, an := seedBaseStudy(t, tx)
	require.NoError(t, tx.Create(&models.Point{AnalysisID: an.ID}).Error)

	first, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)
	assert.False(t, first.Empty())

	// Zweiter Lauf ohne Datenänderung fasst keine Zeile mehr an.
	second, err := svc.RecomputeMediaFlags(context.Background(), tx, []uint{bs.ID})
	require.NoError(t, err)
	assert.True(t, second.Empty())
}

func TestRecomputeMediaFlagsEmptyInput(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := NewFlagService(tx, testutil.Logger(t))

	changed, err := svc.RecomputeMediaFlags(context.Background(), tx, nil)
	require.NoError(t, err)
	assert.True(t, changed.Empty())
}
