package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"neurostore/maptypes"
)

// FlagService ist die Flag-Recomputation-Engine: sie berechnet die fünf
// has_*-Flags auf Analysis-, Study- und BaseStudy-Ebene bottom-up aus den
// Ground-Truth-Kindzeilen neu. Aktualisiert werden nur Zeilen, deren
// berechneter Wert vom gespeicherten abweicht; genau diese IDs werden
// zurückgemeldet.
type FlagService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewFlagService erstellt eine neue Instanz des FlagService.
func NewFlagService(db *gorm.DB, logger *zap.Logger) *FlagService {
	return &FlagService{DB: db, Logger: logger}
}

// Pass 1: Analyse-Flags aus der Existenz von Points/Images. Die Map-Typ-
// Klassifizierung läuft über IN-Listen aus dem maptypes-Paket.
const analysisPassSQL = `
UPDATE analyses AS a SET
    has_coordinates = sub.has_coordinates,
    has_images = sub.has_images,
    has_z_maps = sub.has_z_maps,
    has_t_maps = sub.has_t_maps,
    has_beta_and_variance_maps = sub.has_beta_and_variance_maps,
    updated_at = NOW()
FROM (
    SELECT an.id AS id,
        EXISTS (SELECT 1 FROM points p WHERE p.analysis_id = an.id) AS has_coordinates,
        EXISTS (SELECT 1 FROM images i WHERE i.analysis_id = an.id) AS has_images,
        EXISTS (SELECT 1 FROM images i WHERE i.analysis_id = an.id AND i.value_type IN ?) AS has_z_maps,
        EXISTS (SELECT 1 FROM images i WHERE i.analysis_id = an.id AND i.value_type IN ?) AS has_t_maps,
        (EXISTS (SELECT 1 FROM images i WHERE i.analysis_id = an.id AND i.value_type IN ?)
            AND EXISTS (SELECT 1 FROM images i WHERE i.analysis_id = an.id AND i.value_type IN ?)) AS has_beta_and_variance_maps
    FROM analyses an
    JOIN studies st ON st.id = an.study_id
    WHERE st.base_study_id IN ?
) AS sub
WHERE a.id = sub.id
    AND (a.has_coordinates IS DISTINCT FROM sub.has_coordinates
        OR a.has_images IS DISTINCT FROM sub.has_images
        OR a.has_z_maps IS DISTINCT FROM sub.has_z_maps
        OR a.has_t_maps IS DISTINCT FROM sub.has_t_maps
        OR a.has_beta_and_variance_maps IS DISTINCT FROM sub.has_beta_and_variance_maps)
RETURNING a.id`

// Pass 2: Study-Flags als OR über die frisch geschriebenen Analyse-Flags.
const studyPassSQL = `
UPDATE studies AS s SET
    has_coordinates = sub.has_coordinates,
    has_images = sub.has_images,
    has_z_maps = sub.has_z_maps,
    has_t_maps = sub.has_t_maps,
    has_beta_and_variance_maps = sub.has_beta_and_variance_maps,
    updated_at = NOW()
FROM (
    SELECT st.id AS id,
        COALESCE(BOOL_OR(a.has_coordinates), FALSE) AS has_coordinates,
        COALESCE(BOOL_OR(a.has_images), FALSE) AS has_images,
        COALESCE(BOOL_OR(a.has_z_maps), FALSE) AS has_z_maps,
        COALESCE(BOOL_OR(a.has_t_maps), FALSE) AS has_t_maps,
        COALESCE(BOOL_OR(a.has_beta_and_variance_maps), FALSE) AS has_beta_and_variance_maps
    FROM studies st
    LEFT JOIN analyses a ON a.study_id = st.id
    WHERE st.base_study_id IN ?
    GROUP BY st.id
) AS sub
WHERE s.id = sub.id
    AND (s.has_coordinates IS DISTINCT FROM sub.has_coordinates
        OR s.has_images IS DISTINCT FROM sub.has_images
        OR s.has_z_maps IS DISTINCT FROM sub.has_z_maps
        OR s.has_t_maps IS DISTINCT FROM sub.has_t_maps
        OR s.has_beta_and_variance_maps IS DISTINCT FROM sub.has_beta_and_variance_maps)
RETURNING s.id`

// Pass 3: BaseStudy-Flags als OR über die Study-Flags nach Pass 2.
const baseStudyPassSQL = `
UPDATE base_studies AS b SET
    has_coordinates = sub.has_coordinates,
    has_images = sub.has_images,
    has_z_maps = sub.has_z_maps,
    has_t_maps = sub.has_t_maps,
    has_beta_and_variance_maps = sub.has_beta_and_variance_maps,
    updated_at = NOW()
FROM (
    SELECT bs.id AS id,
        COALESCE(BOOL_OR(s.has_coordinates), FALSE) AS has_coordinates,
        COALESCE(BOOL_OR(s.has_images), FALSE) AS has_images,
        COALESCE(BOOL_OR(s.has_z_maps), FALSE) AS has_z_maps,
        COALESCE(BOOL_OR(s.has_t_maps), FALSE) AS has_t_maps,
        COALESCE(BOOL_OR(s.has_beta_and_variance_maps), FALSE) AS has_beta_and_variance_maps
    FROM base_studies bs
    LEFT JOIN studies s ON s.base_study_id = bs.id
    WHERE bs.id IN ?
    GROUP BY bs.id
) AS sub
WHERE b.id = sub.id
    AND (b.has_coordinates IS DISTINCT FROM sub.has_coordinates
        OR b.has_images IS DISTINCT FROM sub.has_images
        OR b.has_z_maps IS DISTINCT FROM sub.has_z_maps
        OR b.has_t_maps IS DISTINCT FROM sub.has_t_maps
        OR b.has_beta_and_variance_maps IS DISTINCT FROM sub.has_beta_and_variance_maps)
RETURNING b.id`

// RecomputeMediaFlags berechnet alle abgeleiteten Flags für die gegebenen
// BaseStudy-IDs neu. Ist tx nil, wird eine eigene Transaktion geöffnet;
// andernfalls laufen alle drei Pässe in der Transaktion des Aufrufers.
// Jeder DB-Fehler propagiert und rollt die gesamte Neuberechnung atomar
// zurück. Outbox und Cache-Versionen werden hier bewusst nicht angefasst,
// das ist Sache des Aufrufers.
func (s *FlagService) RecomputeMediaFlags(ctx context.Context, tx *gorm.DB, baseStudyIDs []uint) (AffectedIDs, error) {
	changed := AffectedIDs{}
	if len(baseStudyIDs) == 0 {
		return changed, nil
	}

	if tx == nil {
		err := s.DB.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
			var err error
			changed, err = s.recomputeInTx(innerTx, baseStudyIDs)
			return err
		})
		return changed, err
	}

	return s.recomputeInTx(tx.WithContext(ctx), baseStudyIDs)
}

// recomputeInTx führt die drei Pässe in fester Reihenfolge aus. Die
// Reihenfolge ist tragend: Pass 2 liest die in Pass 1 geschriebenen Werte,
// Pass 3 die aus Pass 2; read-after-write innerhalb derselben Transaktion
// sieht die eigenen Schreibzugriffe immer.
func (s *FlagService) recomputeInTx(tx *gorm.DB, baseStudyIDs []uint) (AffectedIDs, error) {
	changed := AffectedIDs{}

	var analysisIDs []uint
	if err := tx.Raw(analysisPassSQL,
		maptypes.ZCodes, maptypes.TCodes, maptypes.BetaCodes, maptypes.VarianceCodes,
		baseStudyIDs).Scan(&analysisIDs).Error; err != nil {
		return nil, err
	}
	changed.Add(ResourceAnalyses, analysisIDs...)

	var studyIDs []uint
	if err := tx.Raw(studyPassSQL, baseStudyIDs).Scan(&studyIDs).Error; err != nil {
		return nil, err
	}
	changed.Add(ResourceStudies, studyIDs...)

	var changedBaseIDs []uint
	if err := tx.Raw(baseStudyPassSQL, baseStudyIDs).Scan(&changedBaseIDs).Error; err != nil {
		return nil, err
	}
	changed.Add(ResourceBaseStudies, changedBaseIDs...)

	s.Logger.Debug("Media-Flags neu berechnet",
		zap.Int("input_base_studies", len(baseStudyIDs)),
		zap.Int("changed_analyses", len(analysisIDs)),
		zap.Int("changed_studies", len(studyIDs)),
		zap.Int("changed_base_studies", len(changedBaseIDs)))

	return changed, nil
}
