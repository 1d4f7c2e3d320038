package models

import (
	"time"

	"gorm.io/datatypes"
)

// Annotation hängt an einem Studyset und beschreibt pro Analyse Notizen.
// NoteKeys ist der Deskriptor (Spaltenname -> Typ), aus dem beim Backfill
// Default-Notizen synthetisiert werden.
type Annotation struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudysetID uint   `json:"studyset_id" gorm:"index;not null"`
	Name       string `json:"name,omitempty"`
	UserID     string `json:"user_id,omitempty" gorm:"index"`

	NoteKeys datatypes.JSON `json:"note_keys,omitempty" gorm:"type:jsonb"`

	AnnotationAnalyses []AnnotationAnalysis `json:"annotation_analyses,omitempty" gorm:"foreignKey:AnnotationID"`
}

// TableName legt den Tabellennamen explizit fest.
func (Annotation) TableName() string { return "annotations" }

// AnnotationAnalysis verbindet eine Annotation mit einer Analyse des
// zugehörigen Studysets. Pro (Annotation, Analyse) existiert höchstens
// eine Zeile.
type AnnotationAnalysis struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AnnotationID uint `json:"annotation_id" gorm:"uniqueIndex:idx_annotation_analysis;not null"`
	AnalysisID   uint `json:"analysis_id" gorm:"uniqueIndex:idx_annotation_analysis;not null"`

	Note datatypes.JSON `json:"note,omitempty" gorm:"type:jsonb"`
}

// TableName legt den Tabellennamen explizit fest.
func (AnnotationAnalysis) TableName() string { return "annotation_analyses" }
