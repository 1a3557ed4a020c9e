package model

import "time"

type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded PDF and the state of its vector index.
type Document struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Filename      string         `gorm:"size:255;not null" json:"filename"`
	FilePath      string         `gorm:"size:500;not null" json:"-"`
	Status        DocumentStatus `gorm:"size:16;not null;index" json:"status"`
	IndexPath     string         `gorm:"size:500" json:"-"`
	ChunkCount    int            `gorm:"not null;default:0" json:"chunk_count"`
	FailureReason string         `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Queryable reports whether the document may be used for retrieval.
func (d *Document) Queryable() bool {
	return d.Status == DocumentStatusReady && d.IndexPath != ""
}
