package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"neurostore/config"
	"neurostore/models"
	"neurostore/providers"
	"neurostore/testutil"
)

func testEnrichmentService(t *testing.T, tx *gorm.DB,
	idProviders []providers.IdentifierProvider, mdProviders []providers.MetadataProvider) *EnrichmentService {
	t.Helper()
	cfg := &config.Config{ProviderRetryAttempts: 1}
	logger := testutil.Logger(t)
	return NewEnrichmentService(cfg, tx, logger, NewFlagService(tx, logger), idProviders, mdProviders)
}

// stubProvider liefert feste Antworten ohne HTTP.
type stubProvider struct {
	name        string
	identifiers providers.Identifiers
	metadata    providers.Metadata
	status      providers.Status
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) LookupIdentifiers(ctx context.Context, known providers.Identifiers) (providers.Identifiers, providers.Status) {
	return s.identifiers, s.status
}
func (s *stubProvider) LookupMetadata(ctx context.Context, known providers.Identifiers) (providers.Metadata, providers.Status) {
	return s.metadata, s.status
}

func TestEnrichMergesDuplicatesOldestWins(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := testEnrichmentService(t, tx, nil, nil)
	ctx := context.Background()

	now := time.Now()
	older := &models.BaseStudy{PMID: "111", Name: "Older", IsActive: true, CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, tx.Create(older).Error)
	newer := &models.BaseStudy{PMID: "111", DOI: "10.1/x", Description: "desc", IsActive: true, CreatedAt: now}
	require.NoError(t, tx.Create(newer).Error)

	olderStudy := &models.Study{BaseStudyID: older.ID, Source: "neurosynth"}
	require.NoError(t, tx.Create(olderStudy).Error)
	newerStudy := &models.Study{BaseStudyID: newer.ID, Source: "pubget"}
	require.NoError(t, tx.Create(newerStudy).Error)

	affected, err := svc.EnrichBaseStudyMetadata(ctx, older.ID)
	require.NoError(t, err)
	assert.True(t, affected.Has(ResourceBaseStudies, older.ID))
	assert.True(t, affected.Has(ResourceBaseStudies, newer.ID))

	// Der Ältere gewinnt und erbt die fehlenden Felder des Jüngeren.
	var gotOlder, gotNewer models.BaseStudy
	require.NoError(t, tx.First(&gotOlder, older.ID).Error)
	require.NoError(t, tx.First(&gotNewer, newer.ID).Error)
	assert.True(t, gotOlder.IsActive)
	assert.Equal(t, "10.1/x", gotOlder.DOI)
	assert.Equal(t, "desc", gotOlder.Description)
	assert.Equal(t, "Older", gotOlder.Name)

	assert.False(t, gotNewer.IsActive)
	if assert.NotNil(t, gotNewer.SupersededBy) {
		assert.Equal(t, older.ID, *gotNewer.SupersededBy)
	}

	// Beide Studies hängen jetzt am Kanon; keine geht verloren.
	var studyCount int64
	require.NoError(t, tx.Model(&models.Study{}).Where("base_study_id = ?", older.ID).Count(&studyCount).Error)
	assert.Equal(t, int64(2), studyCount)
}

func TestEnrichMergesTransitiveChain(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := testEnrichmentService(t, tx, nil, nil)
	ctx := context.Background()

	// A und B teilen die PMID, B und C die DOI. Erst die beim Merge kopierte
	// DOI macht C als Duplikat von A sichtbar.
	now := time.Now()
	a := &models.BaseStudy{PMID: "111", IsActive: true, CreatedAt: now.Add(-2 * time.Hour)}
	require.NoError(t, tx.Create(a).Error)
	b := &models.BaseStudy{PMID: "111", DOI: "10.1/x", IsActive: true, CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, tx.Create(b).Error)
	c := &models.BaseStudy{DOI: "10.1/x", PMCID: "PMC999", IsActive: true, CreatedAt: now}
	require.NoError(t, tx.Create(c).Error)

	_, err := svc.EnrichBaseStudyMetadata(ctx, a.ID)
	require.NoError(t, err)

	var gotA, gotB, gotC models.BaseStudy
	require.NoError(t, tx.First(&gotA, a.ID).Error)
	require.NoError(t, tx.First(&gotB, b.ID).Error)
	require.NoError(t, tx.First(&gotC, c.ID).Error)

	assert.True(t, gotA.IsActive)
	assert.Equal(t, "10.1/x", gotA.DOI)
	assert.Equal(t, "PMC999", gotA.PMCID)
	assert.False(t, gotB.IsActive)
	assert.False(t, gotC.IsActive)
	if assert.NotNil(t, gotC.SupersededBy) {
		assert.Equal(t, a.ID, *gotC.SupersededBy)
	}
}

func TestEnrichMergeRecomputesMediaFlags(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := testEnrichmentService(t, tx, nil, nil)
	ctx := context.Background()

	now := time.Now()
	older := &models.BaseStudy{PMID: "111", IsActive: true, CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, tx.Create(older).Error)
	olderStudy := &models.Study{BaseStudyID: older.ID, Source: "neurosynth"}
	require.NoError(t, tx.Create(olderStudy).Error)
	require.NoError(t, tx.Create(&models.Analysis{StudyID: olderStudy.ID, Name: "a1"}).Error)

	newer := &models.BaseStudy{PMID: "111", IsActive: true, CreatedAt: now}
	require.NoError(t, tx.Create(newer).Error)
	newerStudy := &models.Study{BaseStudyID: newer.ID, Source: "pubget"}
	require.NoError(t, tx.Create(newerStudy).Error)
	newerAnalysis := &models.Analysis{StudyID: newerStudy.ID, Name: "a2"}
	require.NoError(t, tx.Create(newerAnalysis).Error)
	require.NoError(t, tx.Create(&models.Point{AnalysisID: newerAnalysis.ID}).Error)

	// Ausgangszustand: nur der Jüngere hat Koordinaten.
	_, err := svc.Flags.RecomputeMediaFlags(ctx, nil, []uint{older.ID, newer.ID})
	require.NoError(t, err)

	affected, err := svc.EnrichBaseStudyMetadata(ctx, older.ID)
	require.NoError(t, err)

	// Der Kanon gewinnt das Flag über die umgehängte Study, das leergeräumte
	// Duplikat verliert seins; beide in derselben Transaktion wie der Merge.
	var gotOlder, gotNewer models.BaseStudy
	require.NoError(t, tx.First(&gotOlder, older.ID).Error)
	require.NoError(t, tx.First(&gotNewer, newer.ID).Error)
	assert.True(t, gotOlder.HasCoordinates)
	assert.False(t, gotNewer.HasCoordinates)
	assert.True(t, affected.Has(ResourceBaseStudies, older.ID))
	assert.True(t, affected.Has(ResourceBaseStudies, newer.ID))
}

func TestEnrichNeverSelfSupersedes(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := testEnrichmentService(t, tx, nil, nil)

	bs := &models.BaseStudy{DOI: "10.1/solo", IsActive: true}
	require.NoError(t, tx.Create(bs).Error)

	_, err := svc.EnrichBaseStudyMetadata(context.Background(), bs.ID)
	require.NoError(t, err)

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.SupersededBy)
}

func TestEnrichSkipsInactiveAndUnidentified(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	svc := testEnrichmentService(t, tx, nil, nil)
	ctx := context.Background()

	inactive := &models.BaseStudy{DOI: "10.1/x", IsActive: false}
	require.NoError(t, tx.Create(inactive).Error)
	affected, err := svc.EnrichBaseStudyMetadata(ctx, inactive.ID)
	require.NoError(t, err)
	assert.True(t, affected.Empty())

	// Ohne Identifier gibt es nichts aufzulösen und nichts zu deduplizieren.
	blank := &models.BaseStudy{Name: "no ids", IsActive: true}
	require.NoError(t, tx.Create(blank).Error)
	affected, err = svc.EnrichBaseStudyMetadata(ctx, blank.ID)
	require.NoError(t, err)
	assert.True(t, affected.Empty())
}

func TestEnrichAppliesProviderIdentifiersAndMetadata(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	isOA := true
	stub := &stubProvider{
		name:        "stub",
		identifiers: providers.Identifiers{DOI: "10.1/x", PMID: "12345", PMCID: "PMC999"},
		metadata: providers.Metadata{
			Name: "Resolved Title", Publication: "NeuroImage",
			Authors: "A. Author", Year: 2019, IsOA: &isOA,
		},
		status: providers.StatusFound,
	}
	svc := testEnrichmentService(t, tx,
		[]providers.IdentifierProvider{stub}, []providers.MetadataProvider{stub})

	bs := &models.BaseStudy{PMID: "12345", IsActive: true}
	require.NoError(t, tx.Create(bs).Error)
	study := &models.Study{BaseStudyID: bs.ID, Source: "neurosynth"}
	require.NoError(t, tx.Create(study).Error)

	affected, err := svc.EnrichBaseStudyMetadata(context.Background(), bs.ID)
	require.NoError(t, err)
	assert.True(t, affected.Has(ResourceBaseStudies, bs.ID))
	assert.True(t, affected.Has(ResourceStudies, study.ID))

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.Equal(t, "10.1/x", got.DOI)
	assert.Equal(t, "PMC999", got.PMCID)
	assert.Equal(t, "Resolved Title", got.Name)
	assert.Equal(t, 2019, got.Year)

	// Identifier und Metadaten wandern in die Study, ohne eigene Werte zu
	// überschreiben.
	var gotStudy models.Study
	require.NoError(t, tx.First(&gotStudy, study.ID).Error)
	assert.Equal(t, "10.1/x", gotStudy.DOI)
	assert.Equal(t, "Resolved Title", gotStudy.Name)
}

func TestEnrichDoesNotOverwriteExistingValues(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	stub := &stubProvider{
		name:        "stub",
		identifiers: providers.Identifiers{DOI: "10.1/other"},
		metadata:    providers.Metadata{Name: "Provider Title"},
		status:      providers.StatusFound,
	}
	svc := testEnrichmentService(t, tx,
		[]providers.IdentifierProvider{stub}, []providers.MetadataProvider{stub})

	bs := &models.BaseStudy{DOI: "10.1/original", Name: "Original Title", IsActive: true}
	require.NoError(t, tx.Create(bs).Error)

	_, err := svc.EnrichBaseStudyMetadata(context.Background(), bs.ID)
	require.NoError(t, err)

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.Equal(t, "10.1/original", got.DOI)
	assert.Equal(t, "Original Title", got.Name)
}

func TestEnrichIgnoresTransientProviderFailures(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	failing := &stubProvider{name: "down", status: providers.StatusTransient}
	svc := testEnrichmentService(t, tx,
		[]providers.IdentifierProvider{failing}, []providers.MetadataProvider{failing})

	bs := &models.BaseStudy{PMID: "12345", IsActive: true}
	require.NoError(t, tx.Create(bs).Error)

	// Provider-Ausfälle schlagen nie zum Aufrufer durch.
	_, err := svc.EnrichBaseStudyMetadata(context.Background(), bs.ID)
	require.NoError(t, err)

	var got models.BaseStudy
	require.NoError(t, tx.First(&got, bs.ID).Error)
	assert.Equal(t, "12345", got.PMID)
	assert.Equal(t, "", got.DOI)
}

func TestOldestBaseStudyTieBreaksOnID(t *testing.T) {
	now := time.Now()
	a := &models.BaseStudy{ID: 2, CreatedAt: now}
	b := &models.BaseStudy{ID: 1, CreatedAt: now}
	assert.Equal(t, uint(1), oldestBaseStudy([]*models.BaseStudy{a, b}).ID)

	c := &models.BaseStudy{ID: 3, CreatedAt: now.Add(-time.Minute)}
	assert.Equal(t, uint(3), oldestBaseStudy([]*models.BaseStudy{a, b, c}).ID)
}
