package models

import (
	"time"
)

// Analysis gehört zu genau einer Study und trägt dieselben fünf abgeleiteten
// Flags, berechnet aus ihren eigenen Points und Images.
type Analysis struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StudyID uint   `json:"study_id" gorm:"index;not null"`
	Name    string `json:"name,omitempty"`

	HasCoordinates         bool `json:"has_coordinates" gorm:"not null;default:false"`
	HasImages              bool `json:"has_images" gorm:"not null;default:false"`
	HasZMaps               bool `json:"has_z_maps" gorm:"not null;default:false"`
	HasTMaps               bool `json:"has_t_maps" gorm:"not null;default:false"`
	HasBetaAndVarianceMaps bool `json:"has_beta_and_variance_maps" gorm:"not null;default:false"`

	Points []Point `json:"points,omitempty" gorm:"foreignKey:AnalysisID"`
	Images []Image `json:"images,omitempty" gorm:"foreignKey:AnalysisID"`
}

// TableName legt den Tabellennamen explizit fest.
func (Analysis) TableName() string { return "analyses" }
