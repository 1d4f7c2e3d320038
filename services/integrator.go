package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/datatypes"

	"neurostore/cache"
	"neurostore/config"
	"neurostore/models"
)

// WriteIntegrator verdrahtet jeden mutierenden Endpoint mit den
// Konsistenz-Engines: er sammelt per FK-Walk die betroffenen Ressourcen-IDs,
// bumpt deren Cache-Versionen und stößt Flag-/Metadaten-Neuberechnung an
// (synchron oder über die Outbox, je nach Konfiguration).
type WriteIntegrator struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Flags    *FlagService
	Outbox   *OutboxService
	Versions *cache.Versions
}

// NewWriteIntegrator erstellt eine neue Instanz des WriteIntegrator.
func NewWriteIntegrator(cfg *config.Config, db *gorm.DB, logger *zap.Logger,
	flags *FlagService, outbox *OutboxService, versions *cache.Versions) *WriteIntegrator {
	return &WriteIntegrator{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Flags:    flags,
		Outbox:   outbox,
		Versions: versions,
	}
}

// GetAffectedIDs läuft den FK-Graphen von den geschriebenen Zeilen nach oben
// und sammelt alle direkt und transitiv betroffenen Ressourcen-IDs ein
// (z.B. Point-Write -> Analysis -> Study -> Studyset + BaseStudy).
func (w *WriteIntegrator) GetAffectedIDs(ctx context.Context, resource string, ids []uint) (AffectedIDs, error) {
	affected := AffectedIDs{}
	if len(ids) == 0 {
		return affected, nil
	}
	db := w.DB.WithContext(ctx)

	switch resource {
	case ResourcePoints:
		affected.Add(ResourcePoints, ids...)
		var analysisIDs []uint
		if err := db.Model(&models.Point{}).Where("id IN ?", ids).
			Distinct().Pluck("analysis_id", &analysisIDs).Error; err != nil {
			return nil, err
		}
		if err := w.walkAnalyses(db, affected, analysisIDs); err != nil {
			return nil, err
		}

	case ResourceImages:
		affected.Add(ResourceImages, ids...)
		var analysisIDs []uint
		if err := db.Model(&models.Image{}).Where("id IN ?", ids).
			Distinct().Pluck("analysis_id", &analysisIDs).Error; err != nil {
			return nil, err
		}
		if err := w.walkAnalyses(db, affected, analysisIDs); err != nil {
			return nil, err
		}

	case ResourceAnalyses:
		if err := w.walkAnalyses(db, affected, ids); err != nil {
			return nil, err
		}

	case ResourceStudies:
		if err := w.walkStudies(db, affected, ids); err != nil {
			return nil, err
		}

	case ResourceBaseStudies:
		affected.Add(ResourceBaseStudies, ids...)

	case ResourceStudysets:
		affected.Add(ResourceStudysets, ids...)
		var annotationIDs []uint
		if err := db.Model(&models.Annotation{}).Where("studyset_id IN ?", ids).
			Pluck("id", &annotationIDs).Error; err != nil {
			return nil, err
		}
		affected.Add(ResourceAnnotations, annotationIDs...)

	case ResourceAnnotations:
		affected.Add(ResourceAnnotations, ids...)
		var studysetIDs []uint
		if err := db.Model(&models.Annotation{}).Where("id IN ?", ids).
			Distinct().Pluck("studyset_id", &studysetIDs).Error; err != nil {
			return nil, err
		}
		affected.Add(ResourceStudysets, studysetIDs...)

	default:
		return nil, fmt.Errorf("unbekannte Ressource: %s", resource)
	}

	return affected, nil
}

// walkAnalyses ergänzt Analysen samt ihrer Eltern.
func (w *WriteIntegrator) walkAnalyses(db *gorm.DB, affected AffectedIDs, analysisIDs []uint) error {
	if len(analysisIDs) == 0 {
		return nil
	}
	affected.Add(ResourceAnalyses, analysisIDs...)

	var studyIDs []uint
	if err := db.Model(&models.Analysis{}).Where("id IN ?", analysisIDs).
		Distinct().Pluck("study_id", &studyIDs).Error; err != nil {
		return err
	}
	return w.walkStudies(db, affected, studyIDs)
}

// walkStudies ergänzt Studies samt BaseStudy und Studysets (über die
// Study-Studyset-Assoziation).
func (w *WriteIntegrator) walkStudies(db *gorm.DB, affected AffectedIDs, studyIDs []uint) error {
	if len(studyIDs) == 0 {
		return nil
	}
	affected.Add(ResourceStudies, studyIDs...)

	var baseStudyIDs []uint
	if err := db.Model(&models.Study{}).Where("id IN ?", studyIDs).
		Distinct().Pluck("base_study_id", &baseStudyIDs).Error; err != nil {
		return err
	}
	affected.Add(ResourceBaseStudies, baseStudyIDs...)

	var studysetIDs []uint
	if err := db.Model(&models.StudysetStudy{}).Where("study_id IN ?", studyIDs).
		Distinct().Pluck("studyset_id", &studysetIDs).Error; err != nil {
		return err
	}
	affected.Add(ResourceStudysets, studysetIDs...)

	var annotationIDs []uint
	if len(studysetIDs) > 0 {
		if err := db.Model(&models.Annotation{}).Where("studyset_id IN ?", studysetIDs).
			Pluck("id", &annotationIDs).Error; err != nil {
			return err
		}
		affected.Add(ResourceAnnotations, annotationIDs...)
	}
	return nil
}

// ClearCache bumpt die Cache-Versionen aller gesammelten Ressourcen/IDs.
func (w *WriteIntegrator) ClearCache(ctx context.Context, affected AffectedIDs) {
	w.Versions.Bump(ctx, affected.PerResource())
}

// UpdateBaseStudies stößt die Flag-Neuberechnung für betroffene BaseStudies
// an: synchron oder als Outbox-Einreihung, je nach BASE_STUDY_FLAGS_ASYNC.
func (w *WriteIntegrator) UpdateBaseStudies(ctx context.Context, affected AffectedIDs, reason string) error {
	ids := affected.IDs(ResourceBaseStudies)
	if len(ids) == 0 {
		return nil
	}

	if w.Config.BaseStudyFlagsAsync {
		_, err := w.Outbox.EnqueueFlagUpdates(ctx, ids, reason)
		return err
	}

	changed, err := w.Flags.RecomputeMediaFlags(ctx, nil, ids)
	if err != nil {
		return err
	}
	w.Versions.Bump(ctx, changed.PerResource())
	return nil
}

// EnqueueMetadataEnrichment reiht betroffene BaseStudies in die
// Metadata-Outbox ein (typisch: nach dem Anlegen neuer BaseStudies).
func (w *WriteIntegrator) EnqueueMetadataEnrichment(ctx context.Context, affected AffectedIDs, reason string) error {
	ids := affected.IDs(ResourceBaseStudies)
	if len(ids) == 0 {
		return nil
	}
	_, err := w.Outbox.EnqueueMetadataUpdates(ctx, ids, reason)
	return err
}

// backfillAnalysisSQL findet Analysen eines Studysets, denen für eine
// Annotation noch die Join-Zeile fehlt.
const backfillAnalysisSQL = `
SELECT a.id FROM analyses a
JOIN studies st ON st.id = a.study_id
JOIN studyset_studies ss ON ss.study_id = st.id
WHERE ss.studyset_id = ?
    AND NOT EXISTS (
        SELECT 1 FROM annotation_analyses aa
        WHERE aa.annotation_id = ? AND aa.analysis_id = a.id)`

// BackfillAnnotationAnalyses legt fehlende AnnotationAnalysis-Zeilen für
// alle Annotations der betroffenen Studysets an. Die Default-Notiz wird aus
// dem note_keys-Deskriptor der Annotation synthetisiert (alle Keys -> null).
func (w *WriteIntegrator) BackfillAnnotationAnalyses(ctx context.Context, affected AffectedIDs) error {
	// Reine Annotation-Writes ändern die Analysemenge nicht.
	nonAnnotation := false
	for resource, set := range affected {
		if resource != ResourceAnnotations && len(set) > 0 {
			nonAnnotation = true
			break
		}
	}
	if !nonAnnotation {
		return nil
	}

	studysetIDs := affected.IDs(ResourceStudysets)
	if len(studysetIDs) == 0 {
		return nil
	}
	db := w.DB.WithContext(ctx)

	var annotations []models.Annotation
	if err := db.Where("studyset_id IN ?", studysetIDs).Find(&annotations).Error; err != nil {
		return err
	}

	for i := range annotations {
		ann := &annotations[i]

		var missing []uint
		if err := db.Raw(backfillAnalysisSQL, ann.StudysetID, ann.ID).Scan(&missing).Error; err != nil {
			return err
		}
		if len(missing) == 0 {
			continue
		}

		note, err := defaultNote(ann.NoteKeys)
		if err != nil {
			w.Logger.Warn("Ungültige note_keys, Backfill mit leerer Notiz",
				zap.Uint("annotation_id", ann.ID), zap.Error(err))
			note = datatypes.JSON([]byte("{}"))
		}

		rows := make([]models.AnnotationAnalysis, 0, len(missing))
		for _, analysisID := range missing {
			rows = append(rows, models.AnnotationAnalysis{
				AnnotationID: ann.ID,
				AnalysisID:   analysisID,
				Note:         note,
			})
		}
		if err := db.Create(&rows).Error; err != nil {
			return err
		}
		w.Logger.Debug("AnnotationAnalysis-Zeilen nachgezogen",
			zap.Uint("annotation_id", ann.ID), zap.Int("created", len(rows)))
	}
	return nil
}

// defaultNote baut aus dem note_keys-Deskriptor eine Notiz mit null-Werten.
func defaultNote(noteKeys datatypes.JSON) (datatypes.JSON, error) {
	if len(noteKeys) == 0 {
		return datatypes.JSON([]byte("{}")), nil
	}
	var keys map[string]interface{}
	if err := json.Unmarshal(noteKeys, &keys); err != nil {
		return nil, err
	}
	note := make(map[string]interface{}, len(keys))
	for k := range keys {
		note[k] = nil
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
