package models

import (
	"time"
)

// Study ist eine ingestierte Version einer Publikation (z.B. aus neurosynth,
// neurovault, pubget, ace oder von Hand eingetragen). Sie hält eigene Kopien
// der Identifier und Metadaten sowie dieselben fünf abgeleiteten Flags,
// berechnet als OR über ihre Analysen.
type Study struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BaseStudyID uint   `json:"base_study_id" gorm:"index;not null"`
	Source      string `json:"source" gorm:"index"`
	SourceID    string `json:"source_id,omitempty"`

	DOI   string `json:"doi,omitempty" gorm:"column:doi;size:512"`
	PMID  string `json:"pmid,omitempty" gorm:"column:pmid;size:128"`
	PMCID string `json:"pmcid,omitempty" gorm:"column:pmcid;size:128"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	Publication string `json:"publication,omitempty"`
	Authors     string `json:"authors,omitempty" gorm:"type:text"`
	Year        int    `json:"year,omitempty"`

	HasCoordinates         bool `json:"has_coordinates" gorm:"not null;default:false"`
	HasImages              bool `json:"has_images" gorm:"not null;default:false"`
	HasZMaps               bool `json:"has_z_maps" gorm:"not null;default:false"`
	HasTMaps               bool `json:"has_t_maps" gorm:"not null;default:false"`
	HasBetaAndVarianceMaps bool `json:"has_beta_and_variance_maps" gorm:"not null;default:false"`

	Analyses []Analysis `json:"analyses,omitempty" gorm:"foreignKey:StudyID"`
}

// TableName legt den Tabellennamen explizit fest.
func (Study) TableName() string { return "studies" }
