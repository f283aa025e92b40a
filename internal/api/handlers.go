package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/storage"
)

var errBadRequest = errors.New("bad request")

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.backend.GetMetrics()))
}

type promptResponse struct {
	Prompt  *models.Prompt          `json:"prompt"`
	Results []models.ProviderResult `json:"results"`
}

func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, results, err := s.backend.PromptStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []models.ProviderResult{}
	}
	writeJSON(w, http.StatusOK, promptResponse{Prompt: prompt, Results: results})
}

func (s *Server) archivedResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := s.backend.ArchivedResponses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": responses})
}

// processPrompt accepts a prompt for background processing after checking
// that it exists and is claimable.
func (s *Server) processPrompt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	prompt, _, err := s.backend.PromptStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch prompt.Status {
	case models.PromptProcessing:
		writeError(w, storage.ErrPromptBusy)
		return
	case models.PromptCancelled:
		writeError(w, storage.ErrPromptCancelled)
		return
	}

	s.background("prompt processing", func(ctx context.Context) error {
		_, err := s.backend.ProcessPrompt(ctx, id)
		return err
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"prompt_id": id,
		"status":    "accepted",
	})
}

type extractionRequest struct {
	UserID  string `json:"userId"`
	TopicID string `json:"topicId"`
}

func (s *Server) runExtraction(w http.ResponseWriter, r *http.Request) {
	var req extractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, fmt.Errorf("%w: userId is required", errBadRequest))
		return
	}

	result, err := s.backend.RunExtraction(r.Context(), models.Scope{
		UserID:  req.UserID,
		TopicID: strings.TrimSpace(req.TopicID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) competitive(w http.ResponseWriter, r *http.Request) {
	report, err := s.backend.TopicReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	s.background("pending sweep", func(ctx context.Context) error {
		_, err := s.backend.ProcessPending(ctx)
		return err
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Pending prompt sweep triggered"})
}
