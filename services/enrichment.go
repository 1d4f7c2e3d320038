package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"neurostore/config"
	"neurostore/models"
	"neurostore/providers"
)

// EnrichmentService ist die Metadata-Enrichment/Dedup-Engine: sie löst
// fehlende Identifier und Metadaten über eine Provider-Kette auf, findet
// andere aktive BaseStudies mit gemeinsamem Identifier und merged den
// Cluster in den ältesten Datensatz.
type EnrichmentService struct {
	Config              *config.Config
	DB                  *gorm.DB
	Logger              *zap.Logger
	Flags               *FlagService
	IdentifierProviders []providers.IdentifierProvider
	MetadataProviders   []providers.MetadataProvider
}

// NewEnrichmentService erstellt eine neue Instanz des EnrichmentService.
// Die Provider-Reihenfolge ist die Prioritätsreihenfolge: frühere Provider
// gewinnen bei Metadaten-Kandidaten.
func NewEnrichmentService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, flags *FlagService,
	idProviders []providers.IdentifierProvider, mdProviders []providers.MetadataProvider) *EnrichmentService {
	return &EnrichmentService{
		Config:              cfg,
		DB:                  db,
		Logger:              logger,
		Flags:               flags,
		IdentifierProviders: idProviders,
		MetadataProviders:   mdProviders,
	}
}

// EnrichBaseStudyMetadata reichert eine BaseStudy an und dedupliziert sie.
// Öffnet eine eigene Transaktion; Rückgabe sind die IDs, deren gecachte
// Repräsentationen jetzt veraltet sind.
func (s *EnrichmentService) EnrichBaseStudyMetadata(ctx context.Context, baseStudyID uint) (AffectedIDs, error) {
	affected := AffectedIDs{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		affected, err = s.enrichInTx(ctx, tx, baseStudyID)
		return err
	})
	return affected, err
}

// enrichInTx führt die Anreicherung in der Transaktion des Aufrufers aus.
// Provider-Lookups sind best-effort und schlagen nie durch; nur der
// Merge-/DB-Teil kann fehlschlagen und propagiert dann zum Batch-Processor.
func (s *EnrichmentService) enrichInTx(ctx context.Context, tx *gorm.DB, baseStudyID uint) (AffectedIDs, error) {
	affected := AffectedIDs{}
	log := s.Logger.With(zap.Uint("base_study_id", baseStudyID))

	// Idempotenter Fast-Path ohne Lock.
	var bs models.BaseStudy
	if err := tx.First(&bs, baseStudyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return affected, nil
		}
		return nil, err
	}
	if !bs.IsActive || !bs.HasAnyIdentifier() {
		return affected, nil
	}
	if !bs.MissingIdentifiers() && !bs.MissingMetadata() {
		return affected, nil
	}

	known := providers.Identifiers{DOI: bs.DOI, PMID: bs.PMID, PMCID: bs.PMCID}
	discovered := s.resolveIdentifiers(ctx, log, known, bs.MissingIdentifiers())

	var candidates []providers.Metadata
	if bs.MissingMetadata() {
		candidates = s.resolveMetadata(ctx, log, discovered)
	}

	// Re-Load mit Row-Lock: ein anderer Worker kann den Datensatz inzwischen
	// angereichert oder gemerged haben.
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&bs, baseStudyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return affected, nil
		}
		return nil, err
	}
	if !bs.IsActive {
		return affected, nil
	}

	if applyIdentifiers(&bs, discovered) {
		if err := tx.Model(&models.BaseStudy{}).Where("id = ?", bs.ID).Updates(map[string]interface{}{
			"doi": bs.DOI, "pmid": bs.PMID, "pmcid": bs.PMCID,
		}).Error; err != nil {
			return nil, err
		}
		affected.Add(ResourceBaseStudies, bs.ID)
	}

	// Duplikat-Cluster-Schleife: Merges können über kopierte Identifier neue
	// Duplikate sichtbar machen, daher wird der Cluster pro Iteration neu
	// aufgelöst statt superseded_by-Ketten zu folgen.
	primary := &bs
	var merged []uint
	for {
		dups, err := s.findDuplicates(tx, primary)
		if err != nil {
			return nil, err
		}
		if len(dups) == 0 {
			break
		}

		cluster := append([]*models.BaseStudy{primary}, dups...)
		canonical := oldestBaseStudy(cluster)

		for _, dup := range cluster {
			if dup.ID == canonical.ID {
				continue
			}
			studyIDs, err := s.merge(tx, canonical, dup)
			if err != nil {
				return nil, err
			}
			log.Info("BaseStudy-Duplikat gemerged",
				zap.Uint("canonical_id", canonical.ID), zap.Uint("duplicate_id", dup.ID))
			affected.Add(ResourceBaseStudies, dup.ID)
			affected.Add(ResourceStudies, studyIDs...)
			merged = append(merged, dup.ID)
		}
		affected.Add(ResourceBaseStudies, canonical.ID)
		merged = append(merged, canonical.ID)
		primary = canonical
	}

	// Umgehängte Studies verschieben die OR-Aggregate: der Kanon kann Flags
	// dazugewinnen, das leergeräumte Duplikat verliert seine. Die Neuberechnung
	// läuft in derselben Transaktion wie der Merge, kein späteres Event zielt
	// mehr auf diese IDs.
	if len(merged) > 0 {
		changed, err := s.Flags.RecomputeMediaFlags(ctx, tx, merged)
		if err != nil {
			return nil, err
		}
		affected = MergeUniqueIDs(affected, changed)
	}

	// Metadaten-Kandidaten anwenden: first-missing-field-wins über alle
	// Kandidaten, frühere Provider haben Priorität.
	if applyMetadataCandidates(primary, candidates) {
		if err := tx.Model(&models.BaseStudy{}).Where("id = ?", primary.ID).Updates(map[string]interface{}{
			"name": primary.Name, "description": primary.Description,
			"publication": primary.Publication, "authors": primary.Authors,
			"year": primary.Year, "is_oa": primary.IsOA,
		}).Error; err != nil {
			return nil, err
		}
		affected.Add(ResourceBaseStudies, primary.ID)
	}

	studyIDs, err := s.propagateToStudies(tx, primary)
	if err != nil {
		return nil, err
	}
	affected.Add(ResourceStudies, studyIDs...)

	return affected, nil
}

// resolveIdentifiers fragt die Provider-Kette ab, jeder Schritt nur solange
// noch Identifier fehlen. Kein Provider-Fehler bricht die Kette ab.
func (s *EnrichmentService) resolveIdentifiers(ctx context.Context, log *zap.Logger, known providers.Identifiers, missing bool) providers.Identifiers {
	if !missing {
		return known
	}
	discovered := known
	for _, p := range s.IdentifierProviders {
		if discovered.DOI != "" && discovered.PMID != "" && discovered.PMCID != "" {
			break
		}
		found, status := p.LookupIdentifiers(ctx, discovered)
		if status != providers.StatusFound {
			log.Debug("Keine Identifier vom Provider", zap.String("provider", p.Name()), zap.Int("status", int(status)))
			continue
		}
		discovered = fillMissingIdentifiers(discovered, found)
	}
	return discovered
}

// resolveMetadata sammelt Metadaten-Kandidaten aller Provider ein.
func (s *EnrichmentService) resolveMetadata(ctx context.Context, log *zap.Logger, known providers.Identifiers) []providers.Metadata {
	var candidates []providers.Metadata
	if known.Empty() {
		return candidates
	}
	for _, p := range s.MetadataProviders {
		md, status := p.LookupMetadata(ctx, known)
		if status != providers.StatusFound {
			log.Debug("Keine Metadaten vom Provider", zap.String("provider", p.Name()), zap.Int("status", int(status)))
			continue
		}
		candidates = append(candidates, md)
	}
	return candidates
}

// findDuplicates sucht andere aktive BaseStudies mit mindestens einem
// gemeinsamen Identifier. SKIP LOCKED: ein gerade anderweitig gesperrtes
// Duplikat wird in dieser Runde einfach übersprungen, nicht blockiert.
func (s *EnrichmentService) findDuplicates(tx *gorm.DB, primary *models.BaseStudy) ([]*models.BaseStudy, error) {
	var ors []string
	var args []interface{}
	if primary.DOI != "" {
		ors = append(ors, "doi = ?")
		args = append(args, primary.DOI)
	}
	if primary.PMID != "" {
		ors = append(ors, "pmid = ?")
		args = append(args, primary.PMID)
	}
	if primary.PMCID != "" {
		ors = append(ors, "pmcid = ?")
		args = append(args, primary.PMCID)
	}
	if len(ors) == 0 {
		return nil, nil
	}

	var dups []*models.BaseStudy
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id <> ? AND is_active = TRUE", primary.ID).
		Where("("+strings.Join(ors, " OR ")+")", args...).
		Order("created_at ASC, id ASC").
		Find(&dups).Error
	if err != nil {
		return nil, err
	}
	return dups, nil
}

// oldestBaseStudy bestimmt den kanonischen Datensatz eines Clusters:
// strikt (created_at ASC, id ASC). Der älteste gewinnt immer; Vollständigkeit
// entsteht durch Feld-Kopie, nicht durch Auswahl.
func oldestBaseStudy(cluster []*models.BaseStudy) *models.BaseStudy {
	oldest := cluster[0]
	for _, b := range cluster[1:] {
		if b.CreatedAt.Before(oldest.CreatedAt) ||
			(b.CreatedAt.Equal(oldest.CreatedAt) && b.ID < oldest.ID) {
			oldest = b
		}
	}
	return oldest
}

// merge überführt duplicate in primary: fehlende Felder kopieren, duplicate
// deaktivieren und per superseded_by auf primary zeigen lassen, Kindzeilen
// umhängen, Outbox-Zeilen des Duplikats entfernen. Gibt die IDs der
// umgehängten Studies zurück.
func (s *EnrichmentService) merge(tx *gorm.DB, primary, duplicate *models.BaseStudy) ([]uint, error) {
	if primary.ID == duplicate.ID {
		// Strukturell ausgeschlossen; zusätzlich hält der Check-Constraint
		// superseded_by <> id als letzte Verteidigungslinie.
		return nil, nil
	}

	if copyMissingFields(primary, duplicate) {
		if err := tx.Model(&models.BaseStudy{}).Where("id = ?", primary.ID).Updates(map[string]interface{}{
			"doi": primary.DOI, "pmid": primary.PMID, "pmcid": primary.PMCID,
			"name": primary.Name, "description": primary.Description,
			"publication": primary.Publication, "authors": primary.Authors,
			"year": primary.Year, "is_oa": primary.IsOA,
			"ace_fulltext": primary.AceFulltext, "pubget_fulltext": primary.PubgetFulltext,
		}).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Model(&models.BaseStudy{}).Where("id = ?", duplicate.ID).Updates(map[string]interface{}{
		"is_active":     false,
		"superseded_by": primary.ID,
	}).Error; err != nil {
		return nil, err
	}
	duplicate.IsActive = false
	duplicate.SupersededBy = &primary.ID

	var studyIDs []uint
	if err := tx.Model(&models.Study{}).Where("base_study_id = ?", duplicate.ID).Pluck("id", &studyIDs).Error; err != nil {
		return nil, err
	}
	if len(studyIDs) > 0 {
		if err := tx.Model(&models.Study{}).Where("base_study_id = ?", duplicate.ID).
			Update("base_study_id", primary.ID).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Model(&models.PipelineStudyResult{}).Where("base_study_id = ?", duplicate.ID).
		Update("base_study_id", primary.ID).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.PipelineEmbedding{}).Where("base_study_id = ?", duplicate.ID).
		Update("base_study_id", primary.ID).Error; err != nil {
		return nil, err
	}

	// Das Duplikat braucht keine eigenständige Verarbeitung mehr.
	if err := tx.Where("base_study_id = ?", duplicate.ID).Delete(&models.BaseStudyFlagOutbox{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("base_study_id = ?", duplicate.ID).Delete(&models.BaseStudyMetadataOutbox{}).Error; err != nil {
		return nil, err
	}

	return studyIDs, nil
}

// propagateToStudies reicht Identifier und Metadaten der BaseStudy an alle
// Kind-Studies weiter, die das jeweilige Feld selbst noch nicht haben.
// Eigene, nicht-leere Werte einer Study werden nie überschrieben.
func (s *EnrichmentService) propagateToStudies(tx *gorm.DB, primary *models.BaseStudy) ([]uint, error) {
	var studies []models.Study
	if err := tx.Where("base_study_id = ?", primary.ID).Find(&studies).Error; err != nil {
		return nil, err
	}

	var changed []uint
	for i := range studies {
		st := &studies[i]
		updates := map[string]interface{}{}
		if st.DOI == "" && primary.DOI != "" {
			updates["doi"] = primary.DOI
		}
		if st.PMID == "" && primary.PMID != "" {
			updates["pmid"] = primary.PMID
		}
		if st.PMCID == "" && primary.PMCID != "" {
			updates["pmcid"] = primary.PMCID
		}
		if st.Name == "" && primary.Name != "" {
			updates["name"] = primary.Name
		}
		if st.Description == "" && primary.Description != "" {
			updates["description"] = primary.Description
		}
		if st.Publication == "" && primary.Publication != "" {
			updates["publication"] = primary.Publication
		}
		if st.Authors == "" && primary.Authors != "" {
			updates["authors"] = primary.Authors
		}
		if st.Year <= 0 && primary.Year > 0 {
			updates["year"] = primary.Year
		}
		if len(updates) == 0 {
			continue
		}
		if err := tx.Model(&models.Study{}).Where("id = ?", st.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
		changed = append(changed, st.ID)
	}
	return changed, nil
}

// fillMissingIdentifiers füllt fehlende Felder von dst aus src auf.
func fillMissingIdentifiers(dst, src providers.Identifiers) providers.Identifiers {
	if dst.DOI == "" {
		dst.DOI = src.DOI
	}
	if dst.PMID == "" {
		dst.PMID = src.PMID
	}
	if dst.PMCID == "" {
		dst.PMCID = src.PMCID
	}
	return dst
}

// applyIdentifiers übernimmt gefundene Identifier in die BaseStudy, nur für
// noch leere Felder.
func applyIdentifiers(bs *models.BaseStudy, found providers.Identifiers) bool {
	changed := false
	if bs.DOI == "" && found.DOI != "" {
		bs.DOI = found.DOI
		changed = true
	}
	if bs.PMID == "" && found.PMID != "" {
		bs.PMID = found.PMID
		changed = true
	}
	if bs.PMCID == "" && found.PMCID != "" {
		bs.PMCID = found.PMCID
		changed = true
	}
	return changed
}

// applyMetadataCandidates wendet Kandidaten in Prioritätsreihenfolge an:
// pro Feld gewinnt der erste nicht-leere Wert, vorhandene Werte bleiben.
func applyMetadataCandidates(bs *models.BaseStudy, candidates []providers.Metadata) bool {
	changed := false
	for _, md := range candidates {
		if bs.Name == "" && md.Name != "" {
			bs.Name = md.Name
			changed = true
		}
		if bs.Description == "" && md.Description != "" {
			bs.Description = md.Description
			changed = true
		}
		if bs.Publication == "" && md.Publication != "" {
			bs.Publication = md.Publication
			changed = true
		}
		if bs.Authors == "" && md.Authors != "" {
			bs.Authors = md.Authors
			changed = true
		}
		if bs.Year <= 0 && md.Year > 0 {
			bs.Year = md.Year
			changed = true
		}
		if bs.IsOA == nil && md.IsOA != nil {
			bs.IsOA = md.IsOA
			changed = true
		}
	}
	return changed
}

// copyMissingFields ist die explizite Feld-Kopiertabelle des Merge: jedes
// Feld, das auf duplicate vorhanden und auf primary leer ist, wandert auf
// primary. Identifier werden mitkopiert, damit transitive Duplikat-Ketten
// in der Cluster-Schleife sichtbar werden.
func copyMissingFields(primary, duplicate *models.BaseStudy) bool {
	changed := false
	if primary.DOI == "" && duplicate.DOI != "" {
		primary.DOI = duplicate.DOI
		changed = true
	}
	if primary.PMID == "" && duplicate.PMID != "" {
		primary.PMID = duplicate.PMID
		changed = true
	}
	if primary.PMCID == "" && duplicate.PMCID != "" {
		primary.PMCID = duplicate.PMCID
		changed = true
	}
	if primary.Name == "" && duplicate.Name != "" {
		primary.Name = duplicate.Name
		changed = true
	}
	if primary.Description == "" && duplicate.Description != "" {
		primary.Description = duplicate.Description
		changed = true
	}
	if primary.Publication == "" && duplicate.Publication != "" {
		primary.Publication = duplicate.Publication
		changed = true
	}
	if primary.Authors == "" && duplicate.Authors != "" {
		primary.Authors = duplicate.Authors
		changed = true
	}
	if primary.Year <= 0 && duplicate.Year > 0 {
		primary.Year = duplicate.Year
		changed = true
	}
	if primary.IsOA == nil && duplicate.IsOA != nil {
		primary.IsOA = duplicate.IsOA
		changed = true
	}
	if primary.AceFulltext == "" && duplicate.AceFulltext != "" {
		primary.AceFulltext = duplicate.AceFulltext
		changed = true
	}
	if primary.PubgetFulltext == "" && duplicate.PubgetFulltext != "" {
		primary.PubgetFulltext = duplicate.PubgetFulltext
		changed = true
	}
	return changed
}
