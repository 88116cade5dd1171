package card

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardscan/internal/batch"
	"cardscan/internal/export"
	"cardscan/internal/extract"
	"cardscan/internal/vision"
)

// IDGenerator generates unique IDs for batches and images
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is one file received from the upload surface
type Upload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Service handles batch session operations: upload, processing, export
// and teardown
type Service struct {
	db          DB
	client      vision.Client
	storage     Storage
	schema      extract.Schema
	cfg         batch.Config
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	running map[string]*batch.Orchestrator
}

// NewService creates a new Service with default ID generator and time
// source
func NewService(db DB, client vision.Client, storage Storage, cfg batch.Config) *Service {
	return NewServiceWithDeps(db, client, storage, cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for
// testing
func NewServiceWithDeps(db DB, client vision.Client, storage Storage, cfg batch.Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		client:      client,
		storage:     storage,
		schema:      extract.ContactSchema(),
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
		running:     make(map[string]*batch.Orchestrator),
	}
}

// sanitizeFilename cleans up a filename by removing special characters
// and truncating length; phone cameras produce long, messy names
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = strings.TrimSpace(reg.ReplaceAllString(base, " "))

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "card"
	}

	return base + ext
}

// CreateBatch stores the uploaded images and registers a new session.
// Image ids are assigned in submission order; that order fixes the order
// of the eventual result.
func (s *Service) CreateBatch(uploads []Upload) (*Batch, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one image is required")
	}

	now := s.timeSource.Now()
	b := &Batch{
		ID:        s.idGenerator.Generate(),
		Status:    StatusPending,
		Items:     make([]ImageItem, 0, len(uploads)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, up := range uploads {
		id := s.idGenerator.Generate()
		storedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(up.Filename)), up.Data)
		if err != nil {
			s.removeStoredImages(b.Items)
			return nil, fmt.Errorf("saving image %s: %w", up.Filename, err)
		}
		b.Items = append(b.Items, ImageItem{
			ID:         id,
			Filename:   up.Filename,
			MimeType:   up.MimeType,
			StoredName: storedName,
			Size:       int64(len(up.Data)),
		})
	}

	if err := s.db.SaveBatch(b); err != nil {
		s.removeStoredImages(b.Items)
		return nil, fmt.Errorf("saving batch: %w", err)
	}

	slog.Info("Batch created", "batch_id", b.ID, "images", len(b.Items))
	return b, nil
}

// ProcessBatch runs the extraction pipeline over every image in the
// batch. It blocks until the batch completes or ctx is cancelled; either
// way the returned batch holds one outcome per image.
func (s *Service) ProcessBatch(ctx context.Context, id string) (*Batch, error) {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}

	// The live running map is the source of truth here, not the
	// persisted status: a crash can leave a batch stored as processing,
	// and such a batch must stay re-processable
	orch := batch.New(s.client, s.schema, s.cfg)
	s.mu.Lock()
	if _, ok := s.running[id]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("batch %s is already processing", id)
	}
	s.running[id] = orch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	items := make([]batch.Item, 0, len(b.Items))
	for _, it := range b.Items {
		data, err := s.storage.Get(it.StoredName)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", it.ID, err)
		}
		items = append(items, batch.Item{
			ID:       it.ID,
			Filename: it.Filename,
			MimeType: it.MimeType,
			Data:     data,
		})
	}

	b.Status = StatusProcessing
	b.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBatch(b); err != nil {
		return nil, fmt.Errorf("marking batch processing: %w", err)
	}

	outcomes := orch.Process(ctx, items)

	b.Outcomes = outcomes
	b.Status = StatusComplete
	b.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBatch(b); err != nil {
		return nil, fmt.Errorf("saving batch outcomes: %w", err)
	}

	slog.Info("Batch processed",
		"batch_id", id,
		"images", len(items),
		"succeeded", outcomes.Succeeded(),
		"failed", outcomes.Failed(),
	)
	return b, nil
}

// Progress reports completed versus total images for a batch. While the
// batch is running the count comes from the live orchestrator; once
// complete it equals the total.
func (s *Service) Progress(id string) (completed, total int, err error) {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return 0, 0, fmt.Errorf("getting batch: %w", err)
	}
	total = len(b.Items)

	if b.Status == StatusComplete {
		return total, total, nil
	}

	s.mu.Lock()
	orch, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		return orch.Completed(), total, nil
	}
	return 0, total, nil
}

// GetBatch retrieves a batch by ID
func (s *Service) GetBatch(id string) (*Batch, error) {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return b, nil
}

// ListBatches returns all batch sessions
func (s *Service) ListBatches() ([]*Batch, error) {
	batches, err := s.db.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}

// ExportBatch serializes a completed batch as "csv" or "json" and
// returns the bytes along with a success/failure summary
func (s *Service) ExportBatch(id, format string) ([]byte, export.Summary, error) {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return nil, export.Summary{}, fmt.Errorf("getting batch: %w", err)
	}
	if b.Status != StatusComplete {
		return nil, export.Summary{}, fmt.Errorf("batch %s has not been processed", id)
	}

	switch format {
	case "csv":
		return export.CSV(b.Outcomes)
	case "json":
		return export.JSON(b.Outcomes)
	default:
		return nil, export.Summary{}, fmt.Errorf("unsupported export format: %s", format)
	}
}

// DeleteBatch ends a session: stored images and the batch record are
// removed
func (s *Service) DeleteBatch(id string) error {
	b, err := s.db.GetBatch(id)
	if err != nil {
		return fmt.Errorf("getting batch for deletion: %w", err)
	}

	s.removeStoredImages(b.Items)

	if err := s.db.DeleteBatch(id); err != nil {
		return fmt.Errorf("deleting batch: %w", err)
	}
	return nil
}

func (s *Service) removeStoredImages(items []ImageItem) {
	for _, it := range items {
		if err := s.storage.Delete(it.StoredName); err != nil {
			slog.Warn("Failed to delete image file", "stored_name", it.StoredName, "error", err)
		}
	}
}
