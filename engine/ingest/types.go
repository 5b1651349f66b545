package ingest

import (
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
)

// Report summarises one ingestion run. Per-record failures are collected here
// instead of aborting the run.
type Report struct {
	LogFile  string `json:"log_file,omitempty"`
	ImageDir string `json:"image_dir,omitempty"`

	LinesRead      int `json:"lines_read"`
	LinesSkipped   int `json:"lines_skipped"`
	TextIngested   int `json:"text_ingested"`
	ImagesSeen     int `json:"images_seen"`
	ImagesIngested int `json:"images_ingested"`

	Errors []*domain.RecordError `json:"errors,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns the number of records that could not be ingested.
func (r Report) Failed() int { return len(r.Errors) }

// imageFile is an image on disk waiting to be embedded.
type imageFile struct {
	Record domain.ImageRecord
	Data   []byte
}
