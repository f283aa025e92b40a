package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/storage"
)

// RunExtraction runs a mention extraction pass and raises an alert when the
// run fails. A busy scope is returned as is without alerting.
func (s *Service) RunExtraction(ctx context.Context, scope models.Scope) (*models.ExtractionRunResult, error) {
	start := time.Now()
	logrus.Infof("Starting extraction run for %s", scope.Key())

	result, err := s.extraction.Run(ctx, scope)
	if errors.Is(err, storage.ErrScopeBusy) {
		logrus.Infof("Extraction for %s skipped: %v", scope.Key(), err)
		return nil, err
	}
	s.recordExtraction(result, err)

	switch {
	case err != nil:
		s.raiseAlert(ctx, &models.Alert{
			Type:    "critical",
			Title:   "Mention extraction failed",
			Message: fmt.Sprintf("Extraction run for %s aborted: %v", scope.Key(), err),
			Scope:   &scope,
		})
		return nil, err
	case !result.Success:
		s.raiseAlert(ctx, &models.Alert{
			Type:    "urgent",
			Title:   "Mention extraction incomplete",
			Message: fmt.Sprintf("%d results could not be analyzed for %s", len(result.Errors), scope.Key()),
			Scope:   &scope,
			Errors:  result.Errors,
		})
	}

	logrus.Infof("Extraction run for %s completed in %v: %d mentions", scope.Key(), time.Since(start), result.MentionsFound)
	return result, nil
}

func (s *Service) raiseAlert(ctx context.Context, alert *models.Alert) {
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now().UTC()
	if err := s.notificationService.SendAlert(ctx, alert); err != nil {
		logrus.Errorf("Failed to send alert: %v", err)
	}
}

// ExtractActiveTopics runs extraction for every active topic scope
func (s *Service) ExtractActiveTopics(ctx context.Context) error {
	topics, err := s.store.ListActiveTopics(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range topics {
		scope := models.Scope{UserID: t.UserID, TopicID: t.ID}
		if _, err := s.RunExtraction(ctx, scope); err != nil && !errors.Is(err, storage.ErrScopeBusy) {
			errs = append(errs, fmt.Errorf("%s: %w", scope.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// TopicReport builds the visibility and competitive report of one topic
// over the configured window.
func (s *Service) TopicReport(ctx context.Context, topicID string) (*models.Report, error) {
	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -s.config.CompetitiveWindowDays)

	results, err := s.store.ListTopicResults(ctx, topicID, since)
	if err != nil {
		return nil, err
	}
	mentions, err := s.store.ListTopicMentions(ctx, topicID, since)
	if err != nil {
		return nil, err
	}
	avg, err := s.store.AverageVisibility(ctx, topicID, since)
	if err != nil {
		return nil, err
	}

	// extracted mentions are more precise than item heuristics once a run has happened
	competitive := s.aggregator.AggregateMentions(topic.Name, mentions)
	if len(mentions) == 0 {
		competitive = s.aggregator.AggregateResults(topic.Name, results)
	}

	return &models.Report{
		GeneratedAt:       time.Now().UTC(),
		Period:            s.config.ReportSchedule,
		TopicID:           topic.ID,
		TopicName:         topic.Name,
		AverageVisibility: avg,
		TotalMentions:     len(mentions),
		Competitive:       competitive,
		Summary:           summarize(results, mentions),
	}, nil
}

func summarize(results []models.ProviderResult, mentions []models.Mention) map[string]interface{} {
	sentiment := make(map[string]int)
	types := make(map[string]int)
	for _, m := range mentions {
		sentiment[string(m.Sentiment)]++
		types[string(m.Type)]++
	}

	providerStats := make(map[string]int)
	failed := 0
	for _, r := range results {
		if r.Status != models.ResultCompleted {
			failed++
			continue
		}
		providerStats[strings.ToLower(r.Provider)]++
	}

	return map[string]interface{}{
		"sentiment":      sentiment,
		"mention_types":  types,
		"providers":      providerStats,
		"results":        len(results),
		"failed_results": failed,
	}
}

// SendTopicReports builds and sends a report for every active topic
func (s *Service) SendTopicReports(ctx context.Context) error {
	topics, err := s.store.ListActiveTopics(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("Sending reports for %d active topics", len(topics))

	var errs []error
	for _, t := range topics {
		report, err := s.TopicReport(ctx, t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", t.ID, err))
			continue
		}
		if err := s.notificationService.SendReport(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("topic %s: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}
