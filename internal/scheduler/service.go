package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/config"
)

const (
	sweepTimeout      = 15 * time.Minute
	extractionTimeout = 2 * time.Hour
	reportTimeout     = 30 * time.Minute

	// nightly extraction runs before the morning reports
	extractionSchedule = "0 0 2 * * *"
)

// Jobs are the periodic tasks the scheduler drives
type Jobs interface {
	ProcessPending(ctx context.Context) (int, error)
	ExtractActiveTopics(ctx context.Context) error
	SendTopicReports(ctx context.Context) error
}

// Service handles scheduling of processing tasks
type Service struct {
	config *config.Config
	jobs   Jobs
	cron   *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, jobs Jobs) (*Service, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.TimeZone, err)
		}
		loc = l
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Service{
		config: cfg,
		jobs:   jobs,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}, nil
}

func reportSchedule(period string) string {
	switch period {
	case "daily":
		// Run daily at 9 AM
		return "0 0 9 * * *"
	default:
		// Run weekly on Monday at 9 AM
		return "0 0 9 * * MON"
	}
}

// Start registers the jobs and starts the cron runner
func (s *Service) Start() error {
	if err := s.register(); err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started: pending sweep %q, nightly extraction, %s reports",
		s.config.PendingSweepSchedule, s.config.ReportSchedule)
	return nil
}

func (s *Service) register() error {
	sweep := s.config.PendingSweepSchedule
	if sweep == "" {
		sweep = "0 */5 * * * *"
	}

	if _, err := s.cron.AddFunc(sweep, s.runSweep); err != nil {
		return fmt.Errorf("invalid pending sweep schedule %q: %w", sweep, err)
	}
	if _, err := s.cron.AddFunc(extractionSchedule, s.runExtraction); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(reportSchedule(s.config.ReportSchedule), s.runReports); err != nil {
		return err
	}
	return nil
}

func (s *Service) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.jobs.ProcessPending(ctx)
	if err != nil {
		logrus.Errorf("Pending prompt sweep failed after %d prompts: %v", n, err)
		return
	}
	if n > 0 {
		logrus.Infof("Pending prompt sweep processed %d prompts", n)
	}
}

func (s *Service) runExtraction() {
	ctx, cancel := context.WithTimeout(context.Background(), extractionTimeout)
	defer cancel()

	logrus.Info("Starting scheduled mention extraction")
	if err := s.jobs.ExtractActiveTopics(ctx); err != nil {
		logrus.Errorf("Scheduled mention extraction failed: %v", err)
	}
}

func (s *Service) runReports() {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	logrus.Info("Starting scheduled topic reports")
	if err := s.jobs.SendTopicReports(ctx); err != nil {
		logrus.Errorf("Scheduled topic reports failed: %v", err)
	}
}

// Stop stops the scheduler and waits for running jobs
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
