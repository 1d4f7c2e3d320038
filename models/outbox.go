package models

import (
	"time"
)

// BaseStudyFlagOutbox ist die Work-Queue für asynchrone Media-Flag-
// Neuberechnung. Primary Key ist die base_study_id: erneutes Einreihen
// einer bereits wartenden ID frischt nur reason/updated_at auf
// (Upsert, keine Duplikate).
type BaseStudyFlagOutbox struct {
	BaseStudyID uint      `json:"base_study_id" gorm:"primaryKey"`
	Reason      string    `json:"reason,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

// TableName legt den Tabellennamen explizit fest.
func (BaseStudyFlagOutbox) TableName() string { return "base_study_flag_outbox" }

// BaseStudyMetadataOutbox ist die Work-Queue für asynchrone Metadaten-
// Anreicherung und Deduplizierung. Semantik wie BaseStudyFlagOutbox.
type BaseStudyMetadataOutbox struct {
	BaseStudyID uint      `json:"base_study_id" gorm:"primaryKey"`
	Reason      string    `json:"reason,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

// TableName legt den Tabellennamen explizit fest.
func (BaseStudyMetadataOutbox) TableName() string { return "base_study_metadata_outbox" }
