package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineStudyResult ist ein pipeline-abgeleitetes Feature-Ergebnis für eine
// BaseStudy. Beim Merge zweier BaseStudies werden diese Zeilen auf den
// kanonischen Datensatz umgehängt.
type PipelineStudyResult struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BaseStudyID  uint           `json:"base_study_id" gorm:"index;not null"`
	PipelineName string         `json:"pipeline_name" gorm:"index"`
	Version      string         `json:"version,omitempty"`
	Result       datatypes.JSON `json:"result,omitempty" gorm:"type:jsonb"`
}

// TableName legt den Tabellennamen explizit fest.
func (PipelineStudyResult) TableName() string { return "pipeline_study_results" }

// PipelineEmbedding hält einen extern erzeugten Embedding-Vektor für die
// semantische Suche. Die Erzeugung selbst ist ein externer API-Aufruf und
// nicht Teil dieses Systems.
type PipelineEmbedding struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BaseStudyID  uint           `json:"base_study_id" gorm:"index;not null"`
	PipelineName string         `json:"pipeline_name" gorm:"index"`
	Embedding    datatypes.JSON `json:"embedding,omitempty" gorm:"type:jsonb"`
}

// TableName legt den Tabellennamen explizit fest.
func (PipelineEmbedding) TableName() string { return "pipeline_embeddings" }
