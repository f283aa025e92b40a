package monitoring

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/brandlens/visibility-bot/internal/analytics"
	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/notifications"
	"github.com/brandlens/visibility-bot/internal/providers"
	"github.com/brandlens/visibility-bot/internal/storage"
)

// Store is the relational persistence the service needs
type Store interface {
	ClaimPrompt(ctx context.Context, id string) (*models.Prompt, error)
	GetPrompt(ctx context.Context, id string) (*models.Prompt, error)
	CompletePrompt(ctx context.Context, id string, status models.PromptStatus, score *float64) error
	SetPromptStatus(ctx context.Context, id string, status models.PromptStatus) error
	ListPendingPrompts(ctx context.Context, limit int) ([]models.Prompt, error)
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListActiveTopics(ctx context.Context) ([]models.Topic, error)
	UpsertProviderResult(ctx context.Context, promptID string, resp models.ProviderResponse) (*models.ProviderResult, error)
	ListPromptResults(ctx context.Context, promptID string) ([]models.ProviderResult, error)
	ListTopicResults(ctx context.Context, topicID string, since time.Time) ([]models.ProviderResult, error)
	ListTopicMentions(ctx context.Context, topicID string, since time.Time) ([]models.Mention, error)
	AverageVisibility(ctx context.Context, topicID string, since time.Time) (float64, error)
}

// ExtractionRunner runs a mention extraction pass over a scope
type ExtractionRunner interface {
	Run(ctx context.Context, scope models.Scope) (*models.ExtractionRunResult, error)
}

// Service drives prompts through provider fan-out, persistence and scoring,
// and triggers extraction runs and reports.
type Service struct {
	config              *config.Config
	store               Store
	archive             storage.StorageInterface
	notificationService notifications.NotificationInterface
	providers           []providers.Provider
	extraction          ExtractionRunner
	aggregator          *analytics.Aggregator
	metrics             *Metrics
	mu                  sync.RWMutex
}

// Metrics holds processing metrics
type Metrics struct {
	PromptsProcessed   int            `json:"prompts_processed"`
	PromptsFailed      int            `json:"prompts_failed"`
	ProviderSuccess    map[string]int `json:"provider_success"`
	ProviderFailure    map[string]int `json:"provider_failure"`
	ExtractionRuns     int            `json:"extraction_runs"`
	ExtractionFailures int            `json:"extraction_failures"`
	MentionsFound      int            `json:"mentions_found"`
	LastRun            time.Time      `json:"last_run"`
	LastRunDuration    string         `json:"last_run_duration"`
	ErrorCount         int            `json:"error_count"`
}

// NewService creates a new monitoring service. archive may be nil.
func NewService(
	cfg *config.Config,
	store Store,
	archive storage.StorageInterface,
	notificationService notifications.NotificationInterface,
	provs []providers.Provider,
	extraction ExtractionRunner,
) *Service {
	return &Service{
		config:              cfg,
		store:               store,
		archive:             archive,
		notificationService: notificationService,
		providers:           provs,
		extraction:          extraction,
		aggregator:          analytics.NewAggregator(nil, cfg.TopCompetitors),
		metrics: &Metrics{
			ProviderSuccess: make(map[string]int),
			ProviderFailure: make(map[string]int),
		},
	}
}

// Providers returns the configured provider names
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.GetName())
	}
	return names
}

func (s *Service) recordPrompt(status models.PromptStatus, responses []models.ProviderResponse, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == models.PromptCompleted {
		s.metrics.PromptsProcessed++
	} else {
		s.metrics.PromptsFailed++
		s.metrics.ErrorCount++
	}
	for _, r := range responses {
		if r.Succeeded() {
			s.metrics.ProviderSuccess[r.Provider]++
		} else {
			s.metrics.ProviderFailure[r.Provider]++
		}
	}
	s.metrics.LastRun = time.Now()
	s.metrics.LastRunDuration = d.String()
}

func (s *Service) recordExtraction(result *models.ExtractionRunResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.ExtractionRuns++
	if err != nil || result == nil || !result.Success {
		s.metrics.ExtractionFailures++
		s.metrics.ErrorCount++
	}
	if result != nil {
		s.metrics.MentionsFound += result.MentionsFound
	}
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
