package batch

import "cardscan/internal/extract"

// KindCancelled marks items that were never processed because the caller
// cancelled the batch
const KindCancelled = "cancelled"

// Item is one image submitted for processing. Items are immutable once
// created; ids are assigned in submission order and that order fixes the
// order of the result.
type Item struct {
	ID       string
	Filename string
	MimeType string
	Data     []byte
}

// Outcome is the result for a single item: a record on success, or a
// classified failure. Exactly one of Record / ErrorKind is set.
type Outcome struct {
	SourceImageID string          `json:"source_image_id"`
	Filename      string          `json:"filename"`
	Record        *extract.Record `json:"record,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// OK reports whether the item produced a record
func (o Outcome) OK() bool {
	return o.Record != nil
}

// Result holds one outcome per submitted item, in original submission
// order regardless of completion order
type Result []Outcome

// Succeeded returns the number of items that produced a record
func (r Result) Succeeded() int {
	n := 0
	for _, o := range r {
		if o.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of items that did not produce a record
func (r Result) Failed() int {
	return len(r) - r.Succeeded()
}
