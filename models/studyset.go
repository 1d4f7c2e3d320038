package models

import (
	"time"
)

// Studyset ist eine benutzerdefinierte Sammlung von Studies.
type Studyset struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty" gorm:"type:text"`
	UserID      string `json:"user_id,omitempty" gorm:"index"`

	Studies []Study `json:"studies,omitempty" gorm:"many2many:studyset_studies;"`
}

// TableName legt den Tabellennamen explizit fest.
func (Studyset) TableName() string { return "studysets" }

// StudysetStudy ist die Join-Tabelle zwischen Studyset und Study.
type StudysetStudy struct {
	StudysetID uint `json:"studyset_id" gorm:"primaryKey"`
	StudyID    uint `json:"study_id" gorm:"primaryKey;index"`
}

// TableName legt den Tabellennamen explizit fest.
func (StudysetStudy) TableName() string { return "studyset_studies" }
