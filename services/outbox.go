package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"neurostore/cache"
	"neurostore/config"
	"neurostore/models"
)

// OutboxService verwaltet die beiden Outbox-Tabellen: Einreihen veralteter
// BaseStudy-IDs und das Abarbeiten in gebundenen Batches. Das Claimen läuft
// mit FOR UPDATE SKIP LOCKED und ist damit ohne externe Koordination von
// beliebig vielen Workern gleichzeitig ausführbar; jede Zeile gehört zu
// jedem Zeitpunkt höchstens einer Transaktion.
type OutboxService struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *zap.Logger
	Flags      *FlagService
	Enrichment *EnrichmentService
	Versions   *cache.Versions
}

// NewOutboxService erstellt eine neue Instanz des OutboxService.
func NewOutboxService(cfg *config.Config, db *gorm.DB, logger *zap.Logger,
	flags *FlagService, enrichment *EnrichmentService, versions *cache.Versions) *OutboxService {
	return &OutboxService{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		Flags:      flags,
		Enrichment: enrichment,
		Versions:   versions,
	}
}

func (s *OutboxService) retryDelay() time.Duration {
	return time.Duration(s.Config.OutboxRetryDelaySeconds) * time.Second
}

// EnqueueFlagUpdates reiht BaseStudy-IDs in die Flag-Outbox ein. Bereits
// wartende IDs werden nur aufgefrischt (Upsert über den Primary Key).
func (s *OutboxService) EnqueueFlagUpdates(ctx context.Context, ids []uint, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	rows := make([]models.BaseStudyFlagOutbox, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.BaseStudyFlagOutbox{BaseStudyID: id, Reason: reason, UpdatedAt: now})
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "base_study_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"reason": reason, "updated_at": now}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// EnqueueMetadataUpdates reiht BaseStudy-IDs in die Metadata-Outbox ein.
func (s *OutboxService) EnqueueMetadataUpdates(ctx context.Context, ids []uint, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	rows := make([]models.BaseStudyMetadataOutbox, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.BaseStudyMetadataOutbox{BaseStudyID: id, Reason: reason, UpdatedAt: now})
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "base_study_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"reason": reason, "updated_at": now}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ProcessFlagOutboxBatch claimt einen Batch aus der Flag-Outbox, berechnet
// die Flags neu, löscht die verarbeiteten Zeilen und committet. Erst nach
// dem Commit werden Cache-Versionen gebumpt, damit ein Rollback keine
// bereits invalidierten Caches hinterlässt. Bei einem Fehler bleibt der
// gesamte Batch in der Outbox (at-least-once) und wird mit Verzögerung neu
// eingeplant.
func (s *OutboxService) ProcessFlagOutboxBatch(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.Config.OutboxBatchSize
	}
	start := time.Now()

	var claimed []uint
	var changed AffectedIDs
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.BaseStudyFlagOutbox
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("updated_at ASC, base_study_id ASC").
			Limit(batchSize).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			claimed = append(claimed, row.BaseStudyID)
		}

		var err error
		changed, err = s.Flags.RecomputeMediaFlags(ctx, tx, claimed)
		if err != nil {
			return err
		}

		return tx.Where("base_study_id IN ?", claimed).Delete(&models.BaseStudyFlagOutbox{}).Error
	})
	if err != nil {
		s.Logger.Error("Flag-Outbox-Batch fehlgeschlagen, Batch bleibt in der Outbox",
			zap.Int("claimed", len(claimed)), zap.Error(err))
		s.rescheduleFlagRows(ctx, claimed)
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	// Cache-Bump strikt nach dem Commit.
	s.Versions.Bump(ctx, changed.PerResource())

	s.Logger.Info("Flag-Outbox-Batch verarbeitet",
		zap.Int("claimed", len(claimed)),
		zap.Int("changed_base_studies", len(changed[ResourceBaseStudies])),
		zap.Duration("duration", time.Since(start)))
	return len(claimed), nil
}

// ProcessMetadataOutboxBatch claimt einen Batch aus der Metadata-Outbox und
// reichert jede ID einzeln in einem Savepoint an. Eine fehlgeschlagene ID
// wird mit Verzögerung neu eingeplant statt gelöscht; der Rest des Batches
// läuft weiter.
func (s *OutboxService) ProcessMetadataOutboxBatch(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.Config.OutboxBatchSize
	}
	start := time.Now()

	processed := 0
	claimed := 0
	affected := AffectedIDs{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.BaseStudyMetadataOutbox
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("updated_at ASC, base_study_id ASC").
			Limit(batchSize).
			Find(&rows).Error; err != nil {
			return err
		}
		claimed = len(rows)

		var failed []uint
		for _, row := range rows {
			var ids AffectedIDs
			err := tx.Transaction(func(sp *gorm.DB) error {
				var err error
				ids, err = s.Enrichment.enrichInTx(ctx, sp, row.BaseStudyID)
				return err
			})
			if err != nil {
				s.Logger.Warn("Anreicherung fehlgeschlagen, ID wird neu eingeplant",
					zap.Uint("base_study_id", row.BaseStudyID), zap.Error(err))
				failed = append(failed, row.BaseStudyID)
				continue
			}
			affected = MergeUniqueIDs(affected, ids)
			if err := tx.Where("base_study_id = ?", row.BaseStudyID).
				Delete(&models.BaseStudyMetadataOutbox{}).Error; err != nil {
				return err
			}
			processed++
		}

		if len(failed) > 0 {
			if err := tx.Model(&models.BaseStudyMetadataOutbox{}).
				Where("base_study_id IN ?", failed).
				Update("updated_at", time.Now().Add(s.retryDelay())).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("Metadata-Outbox-Batch fehlgeschlagen, Batch bleibt in der Outbox",
			zap.Int("claimed", claimed), zap.Error(err))
		return 0, err
	}
	if claimed == 0 {
		return 0, nil
	}

	s.Versions.Bump(ctx, affected.PerResource())

	s.Logger.Info("Metadata-Outbox-Batch verarbeitet",
		zap.Int("claimed", claimed),
		zap.Int("processed", processed),
		zap.Duration("duration", time.Since(start)))
	return processed, nil
}

// rescheduleFlagRows plant einen fehlgeschlagenen Flag-Batch mit Verzögerung
// neu ein (eigene Transaktion, best-effort: die Zeilen liegen ohnehin noch
// in der Outbox).
func (s *OutboxService) rescheduleFlagRows(ctx context.Context, ids []uint) {
	if len(ids) == 0 {
		return
	}
	err := s.DB.WithContext(ctx).Model(&models.BaseStudyFlagOutbox{}).
		Where("base_study_id IN ?", ids).
		Update("updated_at", time.Now().Add(s.retryDelay())).Error
	if err != nil {
		s.Logger.Warn("Konnte fehlgeschlagenen Batch nicht neu einplanen", zap.Error(err))
	}
}
