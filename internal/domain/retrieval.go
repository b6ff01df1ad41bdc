package domain

import (
	"fmt"
	"strings"
	"time"
)

// RetrievalDocument is a piece of embedded reference material (sample answers,
// rubrics) used as generation context
type RetrievalDocument struct {
	ID        string
	Embedding []float32
	Text      string
	Tags      map[string]string
	CreatedAt time.Time
}

// DocumentSetVersion identifies one state of the stored document set
type DocumentSetVersion struct {
	Count     int
	UpdatedAt time.Time
}

// Equal compares versions, ignoring monotonic clock readings
func (v DocumentSetVersion) Equal(o DocumentSetVersion) bool {
	return v.Count == o.Count && v.UpdatedAt.Equal(o.UpdatedAt)
}

// ValidateRetrievalDocument checks a document before it is indexed
func ValidateRetrievalDocument(d *RetrievalDocument, dimensions int) error {
	if d.ID == "" {
		return fmt.Errorf("%w: id", ErrMissingRequiredField)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("%w: text", ErrMissingRequiredField)
	}
	if len(d.Embedding) == 0 {
		return fmt.Errorf("%w: embedding", ErrMissingRequiredField)
	}
	if dimensions > 0 && len(d.Embedding) != dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(d.Embedding), dimensions)
	}
	return nil
}
