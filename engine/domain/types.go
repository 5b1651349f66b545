// Package domain defines the core records, conversation roles, evidence types,
// and error taxonomy shared by the crisis engine. It is the validation gate at
// pipeline entry points.
package domain

import "time"

// Fixed embedding dimensionality per modality.
const (
	TextDims  = 384 // all-MiniLM-L6-v2
	ImageDims = 512 // clip-ViT-B-32
)

// Default score thresholds. A hit must score strictly above its threshold.
const (
	DefaultTextThreshold  float32 = 0.40
	DefaultImageThreshold float32 = 0.25
)

// Modality names a vector collection's content type. Collections never mix modalities.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Dims returns the fixed vector size for the modality.
func (m Modality) Dims() int {
	switch m {
	case ModalityText:
		return TextDims
	case ModalityImage:
		return ImageDims
	default:
		return 0
	}
}

// LogRecord is one ingested line of a disaster text log. Immutable once ingested.
type LogRecord struct {
	ID              string     `json:"id"`
	Text            string     `json:"text"`
	SourceTimestamp *time.Time `json:"source_timestamp,omitempty"`
	Location        string     `json:"location,omitempty"`
	Role            Role       `json:"role"`
}

// ImageRecord is one ingested photo, keyed by its filename.
type ImageRecord struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	Caption  string `json:"caption,omitempty"`
}

// TextMatch is a text hit with its similarity score.
type TextMatch struct {
	Record LogRecord `json:"record"`
	Score  float32   `json:"score"`
}

// ImageMatch is an image hit with its similarity score.
type ImageMatch struct {
	Record ImageRecord `json:"record"`
	Score  float32     `json:"score"`
}

// EvidenceBundle is the per-query evidence set. Each slice is ordered by
// descending score; ties keep store order.
type EvidenceBundle struct {
	Text   []TextMatch  `json:"text"`
	Images []ImageMatch `json:"images"`

	// Failed lists modalities whose search failed and were left empty.
	Failed []Modality `json:"failed,omitempty"`
}

// Empty reports whether the bundle holds no matches at all.
func (b EvidenceBundle) Empty() bool {
	return len(b.Text) == 0 && len(b.Images) == 0
}

// Degraded reports whether any modality failed.
func (b EvidenceBundle) Degraded() bool { return len(b.Failed) > 0 }

// Citation references a record used as evidence for an answer.
type Citation struct {
	Modality Modality `json:"modality"`
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
}
