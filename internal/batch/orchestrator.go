package batch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cardscan/internal/extract"
	"cardscan/internal/vision"
)

// Config controls concurrency, retries and timeouts for one batch
type Config struct {
	// Concurrency bounds the number of in-flight inference calls
	Concurrency int
	// MaxAttempts is the total attempts per item for retryable errors
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt
	BackoffBase time.Duration
	// CallTimeout bounds each inference call. The batch itself has no
	// timeout; cancellation comes from the caller's context.
	CallTimeout time.Duration
}

// withDefaults fills zero fields with conservative defaults. The
// defaults are small on purpose: hosted vision endpoints rate-limit
// aggressively.
func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// sleepFunc waits for d or until ctx is done
type sleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator fans one inference+normalize pipeline out per item and
// assembles the outcomes back into submission order. Item pipelines are
// isolated: a failure in one never aborts its siblings, with the single
// exception of rejected credentials, which fail every not-yet-started
// item immediately.
type Orchestrator struct {
	client    vision.Client
	schema    extract.Schema
	cfg       Config
	sleep     sleepFunc
	completed atomic.Int64
}

// New creates an Orchestrator for one batch run
func New(client vision.Client, schema extract.Schema, cfg Config) *Orchestrator {
	return NewWithSleep(client, schema, cfg, sleepCtx)
}

// NewWithSleep creates an Orchestrator with a custom backoff sleep for
// testing
func NewWithSleep(client vision.Client, schema extract.Schema, cfg Config, sleep sleepFunc) *Orchestrator {
	return &Orchestrator{
		client: client,
		schema: schema,
		cfg:    cfg.withDefaults(),
		sleep:  sleep,
	}
}

// Completed returns the number of items finished so far, successes and
// failures both. It only ever increases; callers poll it for progress.
func (o *Orchestrator) Completed() int {
	return int(o.completed.Load())
}

// Process runs the batch and returns exactly one outcome per item, in
// input order. It blocks until every dispatched item has finished.
func (o *Orchestrator) Process(ctx context.Context, items []Item) Result {
	prompt := extract.BuildPrompt(o.schema)
	results := make(Result, len(items))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	var unauthorized atomic.Bool

	for i := range items {
		it := items[i]

		if unauthorized.Load() {
			results[i] = failure(it, string(vision.KindUnauthorized), "batch aborted: credentials rejected")
			o.completed.Add(1)
			continue
		}
		if ctx.Err() != nil {
			results[i] = failure(it, KindCancelled, "batch cancelled before item was processed")
			o.completed.Add(1)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = failure(it, KindCancelled, "batch cancelled before item was processed")
			o.completed.Add(1)
			continue
		}

		// Re-check after the wait: a sibling may have hit rejected
		// credentials while this item was queued on the semaphore
		if unauthorized.Load() {
			<-sem
			results[i] = failure(it, string(vision.KindUnauthorized), "batch aborted: credentials rejected")
			o.completed.Add(1)
			continue
		}

		wg.Add(1)
		go func(i int, it Item) {
			defer wg.Done()
			defer func() { <-sem }()
			// Each slot is written exactly once, by this goroutine
			results[i] = o.processItem(ctx, it, prompt)
			if results[i].ErrorKind == string(vision.KindUnauthorized) {
				unauthorized.Store(true)
			}
			o.completed.Add(1)
		}(i, it)
	}

	wg.Wait()
	return results
}

// processItem runs the inference+normalize pipeline for a single item,
// retrying retryable inference errors up to the configured bound with
// exponential backoff
func (o *Orchestrator) processItem(ctx context.Context, it Item, prompt string) Outcome {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		// The call context is deliberately detached from the batch
		// context: cancelling a batch lets in-flight calls finish or
		// time out on their own.
		callCtx, cancel := context.WithTimeout(context.Background(), o.cfg.CallTimeout)
		raw, err := o.client.Invoke(callCtx, it.Data, it.MimeType, prompt)
		cancel()

		if err == nil {
			rec, perr := extract.Normalize(raw, o.schema)
			if perr != nil {
				// A malformed response is not retried: re-asking a
				// non-deterministic model would not reliably fix it
				slog.Warn("Unparseable model response", "image_id", it.ID, "filename", it.Filename, "error", perr)
				return failure(it, extract.KindUnparseable, perr.Error())
			}
			rec.SourceImageID = it.ID
			return Outcome{SourceImageID: it.ID, Filename: it.Filename, Record: rec}
		}

		lastErr = err
		kind := vision.KindOf(err)
		if !vision.Retryable(kind) {
			return failure(it, string(kind), err.Error())
		}
		slog.Warn("Inference attempt failed", "image_id", it.ID, "attempt", attempt, "kind", kind, "error", err)
		if attempt < o.cfg.MaxAttempts {
			if serr := o.sleep(ctx, o.backoffDelay(attempt)); serr != nil {
				return failure(it, KindCancelled, "batch cancelled during retry backoff")
			}
		}
	}
	return failure(it, string(vision.KindOf(lastErr)), lastErr.Error())
}

func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	return o.cfg.BackoffBase << (attempt - 1)
}

func failure(it Item, kind, message string) Outcome {
	return Outcome{SourceImageID: it.ID, Filename: it.Filename, ErrorKind: kind, Message: message}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
