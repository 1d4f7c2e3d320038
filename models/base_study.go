package models

import (
	"time"
)

// BaseStudy ist der kanonische, deduplizierte Publikations-Datensatz.
// Eine BaseStudy besitzt null oder mehr Study-"Versionen" (eine pro
// Ingestion-Quelle). Die has_*-Flags sind abgeleitete Spalten und werden
// ausschließlich von der Flag-Recomputation gepflegt, nie von Handlern.
type BaseStudy struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Externe Identifier; leerer String bedeutet unbekannt.
	DOI   string `json:"doi,omitempty" gorm:"column:doi;index;size:512"`
	PMID  string `json:"pmid,omitempty" gorm:"column:pmid;index;size:128"`
	PMCID string `json:"pmcid,omitempty" gorm:"column:pmcid;index;size:128"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	Publication string `json:"publication,omitempty"`
	Authors     string `json:"authors,omitempty" gorm:"type:text"`
	Year        int    `json:"year,omitempty"`
	IsOA        *bool  `json:"is_oa,omitempty"`

	AceFulltext    string `json:"-" gorm:"type:text"`
	PubgetFulltext string `json:"-" gorm:"type:text"`

	// Abgeleitete Flags: OR über alle Versionen.
	HasCoordinates         bool `json:"has_coordinates" gorm:"not null;default:false"`
	HasImages              bool `json:"has_images" gorm:"not null;default:false"`
	HasZMaps               bool `json:"has_z_maps" gorm:"not null;default:false"`
	HasTMaps               bool `json:"has_t_maps" gorm:"not null;default:false"`
	HasBetaAndVarianceMaps bool `json:"has_beta_and_variance_maps" gorm:"not null;default:false"`

	// Lifecycle: beim Merge verliert der jüngere Datensatz und zeigt per
	// superseded_by auf den kanonischen. Ein Selbstverweis ist per
	// Check-Constraint ausgeschlossen.
	IsActive     bool  `json:"is_active" gorm:"not null;default:true"`
	SupersededBy *uint `json:"superseded_by,omitempty" gorm:"check:chk_base_studies_no_self_supersede,superseded_by IS NULL OR superseded_by <> id"`

	Versions []Study `json:"versions,omitempty" gorm:"foreignKey:BaseStudyID"`
}

// TableName legt den Tabellennamen explizit fest.
func (BaseStudy) TableName() string { return "base_studies" }

// HasAnyIdentifier prüft, ob mindestens ein externer Identifier bekannt ist.
func (b *BaseStudy) HasAnyIdentifier() bool {
	return b.DOI != "" || b.PMID != "" || b.PMCID != ""
}

// MissingIdentifiers prüft, ob noch Identifier fehlen.
func (b *BaseStudy) MissingIdentifiers() bool {
	return b.DOI == "" || b.PMID == "" || b.PMCID == ""
}

// MissingMetadata prüft, ob noch beschreibende Metadaten fehlen.
func (b *BaseStudy) MissingMetadata() bool {
	return b.Name == "" || b.Description == "" || b.Publication == "" ||
		b.Authors == "" || b.Year <= 0 || b.IsOA == nil
}
