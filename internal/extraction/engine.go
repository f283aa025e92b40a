package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/notifications"
	"github.com/brandlens/visibility-bot/internal/queue"
	"github.com/brandlens/visibility-bot/internal/resilience"
	"github.com/brandlens/visibility-bot/internal/storage"
)

// ErrInvalidScope is returned for a scope without a user
var ErrInvalidScope = errors.New("extraction scope requires a user id")

// Store is the persistence the engine needs
type Store interface {
	AcquireScope(ctx context.Context, scope models.Scope, ttl time.Duration) (*storage.Lease, error)
	ReleaseScope(ctx context.Context, lease *storage.Lease) error
	CountCompletedResults(ctx context.Context, scope models.Scope) (int, error)
	ListCompletedResults(ctx context.Context, scope models.Scope) ([]models.ScopedResult, error)
	ReplaceMentions(ctx context.Context, scope models.Scope, mentions []models.Mention, chunkSize int) (int, error)
	SetPromptsStatus(ctx context.Context, ids []string, status models.PromptStatus) error
}

// Options tune batching, pacing and acceptance
type Options struct {
	BatchSize     int
	Concurrency   int
	RateLimit     int
	RateInterval  time.Duration
	Retry         resilience.RetryConfig
	MinConfidence float64
	ChunkSize     int
	LeaseTTL      time.Duration
}

// OptionsFromConfig maps the EXTRACTION_* settings
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchSize:    cfg.ExtractionBatchSize,
		Concurrency:  cfg.ExtractionConcurrency,
		RateLimit:    cfg.ExtractionRateLimit,
		RateInterval: cfg.ExtractionRateInterval,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.ExtractionMaxAttempts,
			BaseBackoff: cfg.ExtractionBaseBackoff,
			MaxBackoff:  cfg.ExtractionMaxBackoff,
			Multiplier:  2,
		},
		MinConfidence: cfg.MinMentionConfidence,
		ChunkSize:     cfg.MentionChunkSize,
		LeaseTTL:      cfg.ScopeLeaseTTL,
	}
}

// Engine runs mention extraction over a scope
type Engine struct {
	store       Store
	extractor   Extractor
	invalidator notifications.Invalidator
	opts        Options
}

// NewEngine creates an engine. A nil invalidator disables invalidation.
func NewEngine(store Store, extractor Extractor, invalidator notifications.Invalidator, opts Options) *Engine {
	if invalidator == nil {
		invalidator = notifications.NoopInvalidator{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 100
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Minute
	}
	return &Engine{store: store, extractor: extractor, invalidator: invalidator, opts: opts}
}

type batchOutcome struct {
	mentions  []models.Mention
	processed int
	errors    []string
}

// Run extracts mentions for every completed result in scope and replaces the
// scope's stored mentions with the new set.
func (e *Engine) Run(ctx context.Context, scope models.Scope) (result *models.ExtractionRunResult, err error) {
	if scope.UserID == "" {
		return nil, ErrInvalidScope
	}
	log := logrus.WithField("scope", scope.Key())

	lease, err := e.store.AcquireScope(ctx, scope, e.opts.LeaseTTL)
	if err != nil {
		return nil, err
	}
	log.Infof("Acquired extraction lease for %d prompts", len(lease.PromptIDs))

	defer func() {
		if rerr := e.store.ReleaseScope(context.WithoutCancel(ctx), lease); rerr != nil {
			log.Warnf("Failed to release extraction lease: %v", rerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
			result = nil
		}
		if err != nil {
			e.markFailed(ctx, lease, err)
		}
	}()

	total, err := e.store.CountCompletedResults(ctx, scope)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		if err := e.store.SetPromptsStatus(ctx, lease.PromptIDs, models.PromptCompleted); err != nil {
			return nil, err
		}
		log.Info("No completed results in scope, nothing to extract")
		e.invalidate(ctx, scope)
		return &models.ExtractionRunResult{Success: true}, nil
	}

	rows, err := e.store.ListCompletedResults(ctx, scope)
	if err != nil {
		return nil, err
	}

	batches := Partition(rows, e.opts.BatchSize)
	log.Infof("Extracting mentions from %d results in %d batches", len(rows), len(batches))

	var mu sync.Mutex
	var mentions []models.Mention
	var rowErrors []string
	processed := 0

	q := queue.New(queue.Options{
		Concurrency: e.opts.Concurrency,
		RateLimit:   e.opts.RateLimit,
		Interval:    e.opts.RateInterval,
		OnCompleted: func(ev queue.Event) {
			log.Debugf("Batch %d finished (%d/%d) in %s", ev.Index, ev.Done, ev.Total, ev.Duration)
		},
	})
	for i, batch := range batches {
		index, batch := i, batch
		q.Add(ctx, func(ctx context.Context) error {
			out := e.processBatch(ctx, batch)

			mu.Lock()
			mentions = append(mentions, out.mentions...)
			rowErrors = append(rowErrors, out.errors...)
			processed += out.processed
			mu.Unlock()

			if len(out.errors) > 0 {
				return fmt.Errorf("batch %d: %d of %d results failed", index, len(out.errors), len(batch))
			}
			return nil
		})
	}
	batchErrs := q.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	found, err := e.store.ReplaceMentions(ctx, scope, mentions, e.opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	success := len(rowErrors) == 0 && len(batchErrs) == 0
	status := models.PromptCompleted
	if !success {
		status = models.PromptFailed
		for _, berr := range batchErrs {
			log.Warn(berr)
		}
	}
	if err := e.store.SetPromptsStatus(ctx, lease.PromptIDs, status); err != nil {
		return nil, err
	}

	if success {
		e.invalidate(ctx, scope)
	}

	log.WithFields(logrus.Fields{
		"processed": processed,
		"mentions":  found,
		"errors":    len(rowErrors),
	}).Info("Extraction run finished")

	return &models.ExtractionRunResult{
		Success:       success,
		Processed:     processed,
		MentionsFound: found,
		Errors:        rowErrors,
	}, nil
}

func (e *Engine) processBatch(ctx context.Context, batch []models.ScopedResult) batchOutcome {
	var out batchOutcome
	for _, row := range batch {
		if ctx.Err() != nil {
			out.errors = append(out.errors, fmt.Sprintf("result %s: %v", row.Result.ID, ctx.Err()))
			continue
		}
		if !row.Result.HasBody() || row.Result.PromptID == "" || row.PromptContent == "" {
			logrus.Debugf("Skipping result %s without content", row.Result.ID)
			continue
		}

		input := Input{
			Brand:    row.TopicName,
			Prompt:   row.PromptContent,
			Provider: row.Result.Provider,
			Response: row.Result.Response,
			Results:  row.Result.Results,
		}

		retry := e.opts.Retry
		retry.OnRetry = resilience.RetryLogger("mention extraction", logrus.Fields{
			"result":   row.Result.ID,
			"provider": row.Result.Provider,
		})
		candidates, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]Candidate, error) {
			return e.extract(ctx, input)
		})
		if err != nil {
			logrus.Errorf("Extraction failed for result %s (%s): %v", row.Result.ID, row.Result.Provider, err)
			out.errors = append(out.errors, fmt.Sprintf("result %s (%s): %v", row.Result.ID, row.Result.Provider, err))
			continue
		}

		for _, c := range Filter(candidates, e.opts.MinConfidence) {
			out.mentions = append(out.mentions, toMention(c, row))
		}
		out.processed++
	}
	return out
}

func (e *Engine) extract(ctx context.Context, in Input) (candidates []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panicked: %v", r)
		}
	}()
	return e.extractor.Extract(ctx, in)
}

func (e *Engine) markFailed(ctx context.Context, lease *storage.Lease, cause error) {
	if len(lease.PromptIDs) == 0 {
		return
	}
	if err := e.store.SetPromptsStatus(context.WithoutCancel(ctx), lease.PromptIDs, models.PromptFailed); err != nil {
		logrus.Errorf("Failed to reset prompts after extraction error (%v): %v", cause, err)
	}
}

func (e *Engine) invalidate(ctx context.Context, scope models.Scope) {
	if err := e.invalidator.Invalidate(ctx, scope); err != nil {
		logrus.Warnf("Failed to invalidate %s: %v", scope.Key(), err)
	}
}
