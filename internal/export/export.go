package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"cardscan/internal/batch"
	"cardscan/internal/extract"
)

// csvHeader is the fixed column order for CSV exports. Consumers rely on
// it; do not reorder.
var csvHeader = []string{"Name", "Title", "Company", "Phone", "Email", "Website", "Address"}

// Summary reports how many items succeeded and failed. For CSV it
// accompanies the file rather than being embedded in it.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Failure describes one item that produced no record
type Failure struct {
	SourceImageID string `json:"source_image_id"`
	ErrorKind     string `json:"error_kind"`
	Message       string `json:"message"`
}

func summarize(res batch.Result) Summary {
	return Summary{
		Total:     len(res),
		Succeeded: res.Succeeded(),
		Failed:    res.Failed(),
	}
}

// CSV serializes the successful records of a batch, one row per record,
// in batch order. encoding/csv quotes any value containing a delimiter,
// quote or newline, so injected field values cannot break row structure.
// Failures are omitted from the file and reported via the summary.
func CSV(res batch.Result) ([]byte, Summary, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, Summary{}, fmt.Errorf("writing csv header: %w", err)
	}
	for _, o := range res {
		if !o.OK() {
			continue
		}
		r := o.Record
		row := []string{r.Name, r.Title, r.Company, r.Phone, r.Email, r.Website, r.Address}
		if err := w.Write(row); err != nil {
			return nil, Summary{}, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, Summary{}, fmt.Errorf("flushing csv: %w", err)
	}

	return buf.Bytes(), summarize(res), nil
}

// document is the JSON export shape: contacts in batch order, failures
// listed separately
type document struct {
	Contacts []*extract.Record `json:"contacts"`
	Failures []Failure         `json:"failures"`
}

// JSON serializes a batch as a document with a contacts array (all
// fields present, empty string for absent) and a failures array
func JSON(res batch.Result) ([]byte, Summary, error) {
	doc := document{
		Contacts: []*extract.Record{},
		Failures: []Failure{},
	}
	for _, o := range res {
		if o.OK() {
			doc.Contacts = append(doc.Contacts, o.Record)
			continue
		}
		doc.Failures = append(doc.Failures, Failure{
			SourceImageID: o.SourceImageID,
			ErrorKind:     o.ErrorKind,
			Message:       o.Message,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, Summary{}, fmt.Errorf("marshaling export document: %w", err)
	}
	return data, summarize(res), nil
}
