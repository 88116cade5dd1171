package card

import (
	"time"

	"cardscan/internal/batch"
)

// Batch statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
)

// ImageItem is one uploaded business-card image. The raw bytes live in
// Storage under StoredName; the item itself is immutable once created
// and is destroyed when its batch session is deleted.
type ImageItem struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	StoredName string `json:"stored_name"`
	Size       int64  `json:"size"`
}

// Batch is one upload session: the images submitted together and, once
// processed, their outcomes in submission order
type Batch struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Items     []ImageItem  `json:"items"`
	Outcomes  batch.Result `json:"outcomes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
