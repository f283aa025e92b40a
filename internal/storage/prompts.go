package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/brandlens/visibility-bot/internal/models"
)

const promptColumns = `id, user_id, topic_id, content, region, status, visibility_score, completed_at, created_at`

func scanPrompt(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.TopicID, &p.Content, &p.Region, &status,
		&p.VisibilityScore, &p.CompletedAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PromptStatus(status)
	return &p, nil
}

// GetPrompt loads a prompt by id
func (p *Postgres) GetPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	prompt, err := scanPrompt(p.pool.QueryRow(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "prompt %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prompt %s", id)
	}
	return prompt, nil
}

// ClaimPrompt moves a prompt to processing in a single conditional update, so
// only one processing pass can hold it. A prompt left processing longer than
// the stale period is reclaimed.
func (p *Postgres) ClaimPrompt(ctx context.Context, id string) (*models.Prompt, error) {
	prompt, err := scanPrompt(p.pool.QueryRow(ctx,
		`UPDATE prompts SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND (status NOT IN ('processing', 'cancelled')
		   OR (`+staleProcessing("", "$2")+`))
		 RETURNING `+promptColumns, id, p.staleSecs()))
	if err == nil {
		return prompt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: claim prompt %s", id)
	}

	existing, getErr := p.GetPrompt(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status == models.PromptCancelled {
		return nil, eris.Wrapf(ErrPromptCancelled, "prompt %s", id)
	}
	return nil, eris.Wrapf(ErrPromptBusy, "prompt %s", id)
}

// CompletePrompt records the final status and visibility score of a processing pass
func (p *Postgres) CompletePrompt(ctx context.Context, id string, status models.PromptStatus, score *float64) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE prompts SET status = $2, visibility_score = COALESCE($3, visibility_score),
		 completed_at = now(), updated_at = now() WHERE id = $1`,
		id, string(status), score)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete prompt %s", id)
	}
	return nil
}

// SetPromptStatus updates a single prompt's status
func (p *Postgres) SetPromptStatus(ctx context.Context, id string, status models.PromptStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE prompts SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return eris.Wrapf(err, "postgres: set prompt %s status", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "prompt %s", id)
	}
	return nil
}

// SetPromptsStatus updates many prompts in one statement
func (p *Postgres) SetPromptsStatus(ctx context.Context, ids []string, status models.PromptStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE prompts SET status = $2, updated_at = now(),
		 completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE completed_at END
		 WHERE id = ANY($1)`, ids, string(status))
	if err != nil {
		return eris.Wrapf(err, "postgres: set %d prompts %s", len(ids), status)
	}
	return nil
}

// ListPendingPrompts returns the oldest pending prompts, together with prompts
// whose processing pass went stale
func (p *Postgres) ListPendingPrompts(ctx context.Context, limit int) ([]models.Prompt, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+promptColumns+` FROM prompts
		 WHERE status = 'pending' OR (`+staleProcessing("", "$2")+`)
		 ORDER BY created_at LIMIT $1`, limit, p.staleSecs())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending prompts")
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending prompt")
		}
		prompts = append(prompts, *prompt)
	}
	return prompts, eris.Wrap(rows.Err(), "postgres: iterate pending prompts")
}

// AverageVisibility returns the mean visibility score of a topic's scored prompts since a time
func (p *Postgres) AverageVisibility(ctx context.Context, topicID string, since time.Time) (float64, error) {
	var avg float64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(visibility_score), 0)::float8 FROM prompts
		 WHERE topic_id = $1 AND visibility_score IS NOT NULL AND completed_at >= $2`,
		topicID, since).Scan(&avg)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: average visibility for topic %s", topicID)
	}
	return avg, nil
}

// GetTopic loads a topic by id
func (p *Postgres) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	var t models.Topic
	err := p.pool.QueryRow(ctx,
		`SELECT id, user_id, name, logo, description, is_active, created_at FROM topics WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Logo, &t.Description, &t.Active, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "topic %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get topic %s", id)
	}
	return &t, nil
}

// ListActiveTopics returns every active topic
func (p *Postgres) ListActiveTopics(ctx context.Context) ([]models.Topic, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, name, logo, description, is_active, created_at FROM topics
		 WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active topics")
	}
	defer rows.Close()

	var topics []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Logo, &t.Description, &t.Active, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan topic")
		}
		topics = append(topics, t)
	}
	return topics, eris.Wrap(rows.Err(), "postgres: iterate topics")
}
