// Package api exposes the HTTP trigger and status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/monitoring"
	"github.com/brandlens/visibility-bot/internal/storage"
)

// Backend is the processing surface the handlers drive
type Backend interface {
	GetMetrics() string
	ProcessPrompt(ctx context.Context, promptID string) (*monitoring.ProcessOutcome, error)
	PromptStatus(ctx context.Context, promptID string) (*models.Prompt, []models.ProviderResult, error)
	ArchivedResponses(ctx context.Context, promptID string) ([]models.ProviderResponse, error)
	ProcessPending(ctx context.Context) (int, error)
	RunExtraction(ctx context.Context, scope models.Scope) (*models.ExtractionRunResult, error)
	TopicReport(ctx context.Context, topicID string) (*models.Report, error)
}

// Pinger reports database health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes HTTP requests to the backend and tracks background work
type Server struct {
	backend    Backend
	db         Pinger
	jobTimeout time.Duration
	wg         sync.WaitGroup
}

// NewServer creates a server. jobTimeout bounds background prompt processing.
func NewServer(backend Backend, db Pinger, jobTimeout time.Duration) *Server {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Server{backend: backend, db: db, jobTimeout: jobTimeout}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	// Metrics endpoint
	router.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)

	router.HandleFunc("/prompts/{id}", s.getPrompt).Methods(http.MethodGet)
	router.HandleFunc("/prompts/{id}/responses", s.archivedResponses).Methods(http.MethodGet)
	router.HandleFunc("/prompts/{id}/process", s.processPrompt).Methods(http.MethodPost)
	router.HandleFunc("/extraction", s.runExtraction).Methods(http.MethodPost)
	router.HandleFunc("/topics/{id}/competitive", s.competitive).Methods(http.MethodGet)

	// Pending prompt sweep trigger
	router.HandleFunc("/trigger", s.trigger).Methods(http.MethodPost)

	return router
}

// Wait blocks until background jobs started by handlers have finished
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) background(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logrus.Errorf("Background %s failed: %v", name, err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrScopeBusy), errors.Is(err, storage.ErrPromptBusy), errors.Is(err, storage.ErrPromptCancelled):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, monitoring.ErrArchiveDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logrus.Errorf("Request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
