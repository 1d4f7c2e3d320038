package models

import (
	"time"
)

// Point ist eine einzelne Aktivierungskoordinate einer Analyse. Allein die
// Existenz eines Points signalisiert Koordinatendaten (has_coordinates).
type Point struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AnalysisID uint `json:"analysis_id" gorm:"index;not null"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	Space string `json:"space,omitempty"`
}

// TableName legt den Tabellennamen explizit fest.
func (Point) TableName() string { return "points" }
