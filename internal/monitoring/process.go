package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandlens/visibility-bot/internal/analytics"
	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/providers"
	"github.com/brandlens/visibility-bot/internal/storage"
)

var (
	// ErrFanOutTimeout is returned when providers do not all settle within the fan-out budget
	ErrFanOutTimeout = errors.New("provider fan-out timed out")
	// ErrArchiveDisabled is returned when no response archive is configured
	ErrArchiveDisabled = errors.New("response archive is not configured")
)

const pendingBatchSize = 50

// PersistOutcome summarizes the per-provider upserts of one prompt
type PersistOutcome struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Rows      []models.ProviderResult `json:"rows"`
	Errors    []string                `json:"errors,omitempty"`
}

// ProcessOutcome is the result of one prompt processing pass
type ProcessOutcome struct {
	PromptID        string              `json:"prompt_id"`
	Status          models.PromptStatus `json:"status"`
	VisibilityScore *float64            `json:"visibility_score,omitempty"`
	Persisted       PersistOutcome      `json:"persisted"`
}

// ProcessPrompt claims a prompt, fans it out to every provider, persists the
// results and completes the prompt with its visibility score.
func (s *Service) ProcessPrompt(ctx context.Context, promptID string) (*ProcessOutcome, error) {
	start := time.Now()
	log := logrus.WithField("prompt_id", promptID)

	prompt, err := s.store.ClaimPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}
	log.Info("Processing prompt")

	topic, err := s.store.GetTopic(ctx, prompt.TopicID)
	if err != nil {
		s.failPrompt(ctx, promptID, nil, start)
		return nil, fmt.Errorf("failed to load topic %s: %w", prompt.TopicID, err)
	}

	responses, err := s.FanOut(ctx, providers.PromptRequest{
		PromptID:  prompt.ID,
		Content:   prompt.Content,
		Region:    prompt.Region,
		TopicName: topic.Name,
	})
	if err != nil {
		log.Errorf("Fan-out failed: %v", err)
		s.failPrompt(ctx, promptID, nil, start)
		return nil, err
	}

	outcome := s.PersistResults(ctx, prompt.ID, responses)
	s.archiveResponses(ctx, prompt.ID, responses)

	result := &ProcessOutcome{PromptID: prompt.ID, Persisted: outcome, Status: models.PromptFailed}
	if outcome.Succeeded > 0 {
		score := analytics.VisibilityScore(outcome.Rows, topic.Name)
		result.Status = models.PromptCompleted
		result.VisibilityScore = &score
	}

	// results are written, so completion outlives the caller's deadline
	if err := s.store.CompletePrompt(context.WithoutCancel(ctx), prompt.ID, result.Status, result.VisibilityScore); err != nil {
		log.Errorf("Failed to complete prompt: %v", err)
		s.failPrompt(ctx, prompt.ID, responses, start)
		return nil, fmt.Errorf("failed to complete prompt %s: %w", prompt.ID, err)
	}

	s.recordPrompt(result.Status, responses, time.Since(start))
	log.WithFields(logrus.Fields{
		"status":    result.Status,
		"persisted": outcome.Succeeded,
		"failed":    outcome.Failed,
		"duration":  time.Since(start),
	}).Info("Prompt processed")

	return result, nil
}

func (s *Service) failPrompt(ctx context.Context, promptID string, responses []models.ProviderResponse, start time.Time) {
	if err := s.store.SetPromptStatus(context.WithoutCancel(ctx), promptID, models.PromptFailed); err != nil {
		logrus.Errorf("Failed to mark prompt %s failed: %v", promptID, err)
	}
	s.recordPrompt(models.PromptFailed, responses, time.Since(start))
}

// FanOut invokes every provider concurrently and waits for all of them. Each
// call runs under the provider timeout; the whole fan-out fails with
// ErrFanOutTimeout once the fan-out timeout elapses.
func (s *Service) FanOut(ctx context.Context, req providers.PromptRequest) ([]models.ProviderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.FanOutTimeout)
	defer cancel()

	responses := make([]models.ProviderResponse, len(s.providers))
	var wg sync.WaitGroup

	for i, provider := range s.providers {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()

			pctx := ctx
			if s.config.ProviderTimeout > 0 {
				var pcancel context.CancelFunc
				pctx, pcancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
				defer pcancel()
			}

			logrus.Debugf("Invoking %s for prompt %s", p.GetName(), req.PromptID)
			responses[i] = p.Invoke(pctx, req)
		}(i, provider)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return responses, nil
	case <-ctx.Done():
		if err := context.Cause(ctx); errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, ErrFanOutTimeout
	}
}

// PersistResults upserts every response independently; one failed write
// never prevents the others.
func (s *Service) PersistResults(ctx context.Context, promptID string, responses []models.ProviderResponse) PersistOutcome {
	rows := make([]*models.ProviderResult, len(responses))
	errs := make([]error, len(responses))

	var g errgroup.Group
	for i, resp := range responses {
		g.Go(func() error {
			row, err := s.store.UpsertProviderResult(ctx, promptID, resp)
			rows[i], errs[i] = row, err
			return err
		})
	}
	_ = g.Wait()

	var outcome PersistOutcome
	for i, err := range errs {
		if err != nil {
			logrus.Errorf("Failed to persist %s result for prompt %s: %v", responses[i].Provider, promptID, err)
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", responses[i].Provider, err))
			continue
		}
		outcome.Succeeded++
		outcome.Rows = append(outcome.Rows, *rows[i])
	}
	return outcome
}

func (s *Service) archiveResponses(ctx context.Context, promptID string, responses []models.ProviderResponse) {
	if s.archive == nil {
		return
	}
	for _, resp := range responses {
		data, err := json.Marshal(resp)
		if err != nil {
			logrus.Warnf("Failed to marshal %s response for archive: %v", resp.Provider, err)
			continue
		}
		if err := s.archive.Store(ctx, storage.ArchiveName(promptID, resp.Provider), data); err != nil {
			logrus.Warnf("Failed to archive %s response for prompt %s: %v", resp.Provider, promptID, err)
		}
	}
}

// ArchivedResponses reads back the raw provider responses archived for a
// prompt, ordered by blob name.
func (s *Service) ArchivedResponses(ctx context.Context, promptID string) ([]models.ProviderResponse, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}

	names, err := s.archive.List(ctx, storage.ArchivePrefix(promptID))
	if err != nil {
		return nil, fmt.Errorf("failed to list archive for prompt %s: %w", promptID, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("archived responses for prompt %s: %w", promptID, storage.ErrNotFound)
	}
	sort.Strings(names)

	responses := make([]models.ProviderResponse, 0, len(names))
	for _, name := range names {
		data, err := s.archive.Retrieve(ctx, name)
		if err != nil {
			return nil, err
		}
		var resp models.ProviderResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode archived response %s: %w", name, err)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// ProcessPending processes prompts waiting for their first pass, and prompts
// whose previous pass went stale. Prompts claimed by another worker are skipped.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	prompts, err := s.store.ListPendingPrompts(ctx, pendingBatchSize)
	if err != nil {
		return 0, err
	}
	if len(prompts) == 0 {
		logrus.Debug("No pending prompts")
		return 0, nil
	}
	logrus.Infof("Processing %d pending prompts", len(prompts))

	processed := 0
	var errs []error
	for _, p := range prompts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := s.ProcessPrompt(ctx, p.ID)
		switch {
		case err == nil:
			processed++
		case errors.Is(err, storage.ErrPromptBusy), errors.Is(err, storage.ErrPromptCancelled):
			logrus.Debugf("Skipping prompt %s: %v", p.ID, err)
		default:
			errs = append(errs, fmt.Errorf("prompt %s: %w", p.ID, err))
		}
	}

	return processed, errors.Join(errs...)
}

// PromptStatus returns a prompt with its persisted provider results
func (s *Service) PromptStatus(ctx context.Context, promptID string) (*models.Prompt, []models.ProviderResult, error) {
	prompt, err := s.store.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.store.ListPromptResults(ctx, promptID)
	if err != nil {
		return nil, nil, err
	}
	return prompt, results, nil
}
