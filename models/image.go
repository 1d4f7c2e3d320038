package models

import (
	"time"

	"gorm.io/gorm"

	"neurostore/maptypes"
)

// Image ist eine statistische Karte einer Analyse. Der ValueType wird beim
// Schreiben kanonisiert und entscheidet über die Map-Typ-Klasse
// (Z/T/Beta/Variance/Other).
type Image struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AnalysisID uint `json:"analysis_id" gorm:"index;not null"`

	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	ValueType string `json:"value_type,omitempty" gorm:"index;size:128"`
	Space     string `json:"space,omitempty"`
}

// TableName legt den Tabellennamen explizit fest.
func (Image) TableName() string { return "images" }

// BeforeSave kanonisiert den ValueType, damit die Klassenzuordnung in SQL
// über einfache IN-Listen funktioniert.
func (i *Image) BeforeSave(tx *gorm.DB) error {
	i.ValueType = maptypes.Canonicalize(i.ValueType)
	return nil
}
