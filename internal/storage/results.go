package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/brandlens/visibility-bot/internal/models"
)

// scopeFilter matches prompts p of a scope; $1 is the user id, $2 the topic id or empty
const scopeFilter = `p.user_id = $1 AND ($2 = '' OR p.topic_id = $2)`

// UpsertProviderResult writes the result of one provider for a prompt. A
// second write for the same (prompt, provider) updates the existing row.
func (p *Postgres) UpsertProviderResult(ctx context.Context, promptID string, resp models.ProviderResponse) (*models.ProviderResult, error) {
	results := resp.Results
	if results == nil {
		results = []models.SearchResult{}
	}
	metadata := resp.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal results")
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal metadata")
	}

	status := models.ResultCompleted
	var errMsg *string
	if !resp.Succeeded() {
		status = models.ResultFailed
		errMsg = &resp.Error
	}

	row := &models.ProviderResult{
		PromptID:     promptID,
		Provider:     resp.Provider,
		Response:     resp.Response,
		Results:      results,
		Metadata:     metadata,
		Status:       status,
		ErrorMessage: resp.Error,
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO prompt_results (id, prompt_id, provider, response, results, metadata, status, error_message, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (prompt_id, provider) DO UPDATE SET
		   response = EXCLUDED.response,
		   results = EXCLUDED.results,
		   metadata = EXCLUDED.metadata,
		   status = EXCLUDED.status,
		   error_message = EXCLUDED.error_message,
		   completed_at = EXCLUDED.completed_at,
		   updated_at = now()
		 RETURNING id, completed_at`,
		uuid.NewString(), promptID, resp.Provider, resp.Response, resultsJSON, metadataJSON, string(status), errMsg,
	).Scan(&row.ID, &row.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert %s result for prompt %s", resp.Provider, promptID)
	}

	return row, nil
}

// CountCompletedResults counts completed provider results in a scope
func (p *Postgres) CountCompletedResults(ctx context.Context, scope models.Scope) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*)::int FROM prompt_results r JOIN prompts p ON p.id = r.prompt_id
		 WHERE `+scopeFilter+` AND r.status = 'completed'`,
		scope.UserID, scope.TopicID).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count completed results for %s", scope.Key())
	}
	return n, nil
}

// ListCompletedResults returns the completed results of a scope with their prompt and topic
func (p *Postgres) ListCompletedResults(ctx context.Context, scope models.Scope) ([]models.ScopedResult, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.prompt_id, r.provider, r.response, r.results, r.metadata, r.status,
		        COALESCE(r.error_message, ''), r.completed_at, p.content, p.topic_id, t.name
		 FROM prompt_results r
		 JOIN prompts p ON p.id = r.prompt_id
		 JOIN topics t ON t.id = p.topic_id
		 WHERE `+scopeFilter+` AND r.status = 'completed'
		 ORDER BY r.completed_at, r.id`,
		scope.UserID, scope.TopicID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list completed results for %s", scope.Key())
	}
	defer rows.Close()

	var out []models.ScopedResult
	for rows.Next() {
		var sr models.ScopedResult
		r, err := scanResult(rows, &sr.PromptContent, &sr.TopicID, &sr.TopicName)
		if err != nil {
			return nil, err
		}
		sr.Result = *r
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate completed results")
}

// ListTopicResults returns a topic's completed results since a time
func (p *Postgres) ListTopicResults(ctx context.Context, topicID string, since time.Time) ([]models.ProviderResult, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.prompt_id, r.provider, r.response, r.results, r.metadata, r.status,
		        COALESCE(r.error_message, ''), r.completed_at
		 FROM prompt_results r JOIN prompts p ON p.id = r.prompt_id
		 WHERE p.topic_id = $1 AND r.status = 'completed' AND r.completed_at >= $2
		 ORDER BY r.completed_at, r.id`,
		topicID, since)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for topic %s", topicID)
	}
	defer rows.Close()

	var out []models.ProviderResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate topic results")
}

// ListPromptResults returns every provider result of a prompt
func (p *Postgres) ListPromptResults(ctx context.Context, promptID string) ([]models.ProviderResult, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.prompt_id, r.provider, r.response, r.results, r.metadata, r.status,
		        COALESCE(r.error_message, ''), r.completed_at
		 FROM prompt_results r WHERE r.prompt_id = $1 ORDER BY r.provider`,
		promptID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for prompt %s", promptID)
	}
	defer rows.Close()

	var out []models.ProviderResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate prompt results")
}

func scanResult(rows pgx.Rows, extra ...any) (*models.ProviderResult, error) {
	var r models.ProviderResult
	var status string
	var resultsJSON, metadataJSON []byte

	dest := append([]any{&r.ID, &r.PromptID, &r.Provider, &r.Response, &resultsJSON, &metadataJSON,
		&status, &r.ErrorMessage, &r.CompletedAt}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, eris.Wrap(err, "postgres: scan result")
	}

	r.Status = models.ResultStatus(status)
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &r.Results); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode results of %s", r.ID)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode metadata of %s", r.ID)
		}
	}
	return &r, nil
}
