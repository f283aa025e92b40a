package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brandlens/visibility-bot/internal/models"
	"github.com/brandlens/visibility-bot/internal/monitoring"
	"github.com/brandlens/visibility-bot/internal/storage"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetMetrics() string {
	return m.Called().String(0)
}

func (m *MockBackend) ProcessPrompt(ctx context.Context, promptID string) (*monitoring.ProcessOutcome, error) {
	args := m.Called(ctx, promptID)
	o, _ := args.Get(0).(*monitoring.ProcessOutcome)
	return o, args.Error(1)
}

func (m *MockBackend) PromptStatus(ctx context.Context, promptID string) (*models.Prompt, []models.ProviderResult, error) {
	args := m.Called(ctx, promptID)
	p, _ := args.Get(0).(*models.Prompt)
	r, _ := args.Get(1).([]models.ProviderResult)
	return p, r, args.Error(2)
}

func (m *MockBackend) ArchivedResponses(ctx context.Context, promptID string) ([]models.ProviderResponse, error) {
	args := m.Called(ctx, promptID)
	r, _ := args.Get(0).([]models.ProviderResponse)
	return r, args.Error(1)
}

func (m *MockBackend) ProcessPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockBackend) RunExtraction(ctx context.Context, scope models.Scope) (*models.ExtractionRunResult, error) {
	args := m.Called(ctx, scope)
	r, _ := args.Get(0).(*models.ExtractionRunResult)
	return r, args.Error(1)
}

func (m *MockBackend) TopicReport(ctx context.Context, topicID string) (*models.Report, error) {
	args := m.Called(ctx, topicID)
	r, _ := args.Get(0).(*models.Report)
	return r, args.Error(1)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewServer(&MockBackend{}, pinger{}, 0), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = do(t, NewServer(&MockBackend{}, pinger{err: errors.New("refused")}, 0), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestMetrics(t *testing.T) {
	backend := &MockBackend{}
	backend.On("GetMetrics").Return(`{"prompts_processed":3}`)

	rec := do(t, NewServer(backend, nil, 0), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"prompts_processed":3}`, rec.Body.String())
}

func TestGetPrompt(t *testing.T) {
	backend := &MockBackend{}
	backend.On("PromptStatus", mock.Anything, "p-1").Return(
		&models.Prompt{ID: "p-1", Status: models.PromptCompleted},
		[]models.ProviderResult{{ID: "r-1", Provider: "openai", Status: models.ResultCompleted}},
		nil,
	)
	backend.On("PromptStatus", mock.Anything, "missing").Return(nil, nil, eris.Wrap(storage.ErrNotFound, "prompt missing"))
	s := NewServer(backend, nil, 0)

	rec := do(t, s, http.MethodGet, "/prompts/p-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body promptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.PromptCompleted, body.Prompt.Status)
	assert.Len(t, body.Results, 1)

	rec = do(t, s, http.MethodGet, "/prompts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessPrompt(t *testing.T) {
	backend := &MockBackend{}
	backend.On("PromptStatus", mock.Anything, "p-1").Return(&models.Prompt{ID: "p-1", Status: models.PromptPending}, nil, nil)
	backend.On("PromptStatus", mock.Anything, "p-2").Return(&models.Prompt{ID: "p-2", Status: models.PromptProcessing}, nil, nil)
	backend.On("PromptStatus", mock.Anything, "p-3").Return(&models.Prompt{ID: "p-3", Status: models.PromptCancelled}, nil, nil)
	backend.On("ProcessPrompt", mock.Anything, "p-1").Return(&monitoring.ProcessOutcome{PromptID: "p-1"}, nil)
	s := NewServer(backend, nil, 0)

	rec := do(t, s, http.MethodPost, "/prompts/p-1/process", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"accepted"`)

	rec = do(t, s, http.MethodPost, "/prompts/p-2/process", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/prompts/p-3/process", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.Wait()
	backend.AssertCalled(t, "ProcessPrompt", mock.Anything, "p-1")
	backend.AssertNotCalled(t, "ProcessPrompt", mock.Anything, "p-2")
}

func TestRunExtraction(t *testing.T) {
	scope := models.Scope{UserID: "u-1", TopicID: "t-1"}
	backend := &MockBackend{}
	backend.On("RunExtraction", mock.Anything, scope).Return(&models.ExtractionRunResult{
		Success: true, Processed: 12, MentionsFound: 30,
	}, nil).Once()
	backend.On("RunExtraction", mock.Anything, scope).Return(nil, eris.Wrap(storage.ErrScopeBusy, "scope")).Once()
	s := NewServer(backend, nil, 0)

	rec := do(t, s, http.MethodPost, "/extraction", `{"userId":"u-1","topicId":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"processed":12,"mentionsFound":30}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/extraction", `{"userId":"u-1","topicId":"t-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "processing already in progress")

	rec = do(t, s, http.MethodPost, "/extraction", `{"topicId":"t-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/extraction", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompetitive(t *testing.T) {
	backend := &MockBackend{}
	backend.On("TopicReport", mock.Anything, "t-1").Return(&models.Report{
		TopicID: "t-1", TopicName: "Acme",
		Competitive: &models.CompetitiveReport{Brand: "Acme", MarketShare: 100},
	}, nil)

	rec := do(t, NewServer(backend, nil, 0), http.MethodGet, "/topics/t-1/competitive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 100.0, report.Competitive.MarketShare)
}

func TestTrigger(t *testing.T) {
	backend := &MockBackend{}
	backend.On("ProcessPending", mock.Anything).Return(3, nil)
	s := NewServer(backend, nil, 0)

	rec := do(t, s, http.MethodPost, "/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	s.Wait()
	backend.AssertExpectations(t)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, NewServer(&MockBackend{}, nil, 0), http.MethodGet, "/trigger", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestArchivedResponses(t *testing.T) {
	backend := &MockBackend{}
	backend.On("ArchivedResponses", mock.Anything, "p-1").Return([]models.ProviderResponse{
		{Provider: "openai", Response: "Acme leads"},
	}, nil)
	backend.On("ArchivedResponses", mock.Anything, "p-2").Return(nil, eris.Wrapf(storage.ErrNotFound, "prompt p-2"))
	backend.On("ArchivedResponses", mock.Anything, "p-3").Return(nil, monitoring.ErrArchiveDisabled)
	server := NewServer(backend, nil, 0)

	rec := do(t, server, http.MethodGet, "/prompts/p-1/responses", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"response":"Acme leads"`)

	rec = do(t, server, http.MethodGet, "/prompts/p-2/responses", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server, http.MethodGet, "/prompts/p-3/responses", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
