package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/models"
)

var mentionColumns = []string{
	"id", "prompt_id", "topic_id", "prompt_result_id", "provider", "mention_type", "position",
	"context", "sentiment", "confidence", "extracted_text", "competitor_name", "created_at",
}

// Lease is a held extraction scope
type Lease struct {
	Scope     models.Scope
	Holder    string
	PromptIDs []string
}

// AcquireScope takes the extraction lease for a scope and marks its
// dispatched prompts processing, all in one transaction. It fails with
// ErrScopeBusy when an unexpired lease exists or a prompt in the scope is
// already processing. Prompts whose processing went stale are taken over.
func (p *Postgres) AcquireScope(ctx context.Context, scope models.Scope, ttl time.Duration) (*Lease, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: acquire scope: begin tx")
	}
	defer tx.Rollback(ctx)

	holder := uuid.NewString()
	var got string
	err = tx.QueryRow(ctx,
		`INSERT INTO extraction_leases (scope_key, holder, acquired_at, expires_at)
		 VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		 ON CONFLICT (scope_key) DO UPDATE SET
		   holder = EXCLUDED.holder,
		   acquired_at = EXCLUDED.acquired_at,
		   expires_at = EXCLUDED.expires_at
		 WHERE extraction_leases.expires_at < now()
		 RETURNING holder`,
		scope.Key(), holder, ttl.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrScopeBusy, "scope %s", scope.Key())
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: acquire lease %s", scope.Key())
	}

	var busy bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM prompts p WHERE `+scopeFilter+`
		 AND p.status = 'processing' AND p.updated_at >= now() - make_interval(secs => $3))`,
		scope.UserID, scope.TopicID, p.staleSecs()).Scan(&busy)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: check processing prompts %s", scope.Key())
	}
	if busy {
		return nil, eris.Wrapf(ErrScopeBusy, "scope %s", scope.Key())
	}

	rows, err := tx.Query(ctx,
		`UPDATE prompts p SET status = 'processing', updated_at = now()
		 WHERE `+scopeFilter+` AND (p.status IN ('completed', 'failed')
		   OR (`+staleProcessing("p.", "$3")+`))
		 RETURNING p.id`,
		scope.UserID, scope.TopicID, p.staleSecs())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: mark scope %s processing", scope.Key())
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: collect scope %s prompts", scope.Key())
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: acquire scope: commit")
	}

	return &Lease{Scope: scope, Holder: holder, PromptIDs: ids}, nil
}

// ReleaseScope drops a lease if it is still held by the same holder
func (p *Postgres) ReleaseScope(ctx context.Context, lease *Lease) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM extraction_leases WHERE scope_key = $1 AND holder = $2`,
		lease.Scope.Key(), lease.Holder)
	if err != nil {
		return eris.Wrapf(err, "postgres: release lease %s", lease.Scope.Key())
	}
	return nil
}

// ReplaceMentions deletes a scope's mentions and inserts the new set in
// chunks inside one transaction. Readers see either the old or the new set.
func (p *Postgres) ReplaceMentions(ctx context.Context, scope models.Scope, mentions []models.Mention, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = 100
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace mentions: begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM mentions m USING prompts p WHERE m.prompt_id = p.id AND `+scopeFilter,
		scope.UserID, scope.TopicID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete mentions for %s", scope.Key())
	}
	logrus.WithField("scope", scope.Key()).Debugf("Deleted %d previous mentions", tag.RowsAffected())

	inserted := 0
	now := time.Now().UTC()
	for start := 0; start < len(mentions); start += chunkSize {
		end := start + chunkSize
		if end > len(mentions) {
			end = len(mentions)
		}

		rows := make([][]any, 0, end-start)
		for _, m := range mentions[start:end] {
			rows = append(rows, mentionRow(m, now))
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{"mentions"}, mentionColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: copy mentions chunk at %d for %s", start, scope.Key())
		}
		inserted += int(n)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace mentions: commit")
	}

	return inserted, nil
}

func mentionRow(m models.Mention, now time.Time) []any {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	var competitor *string
	if m.CompetitorName != "" {
		competitor = &m.CompetitorName
	}
	return []any{
		id, m.PromptID, m.TopicID, m.PromptResultID, m.Provider, string(m.Type), m.Position,
		m.Context, string(m.Sentiment), m.Confidence, m.ExtractedText, competitor, now,
	}
}

// ListTopicMentions returns a topic's mentions created since a time
func (p *Postgres) ListTopicMentions(ctx context.Context, topicID string, since time.Time) ([]models.Mention, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, prompt_id, topic_id, prompt_result_id, provider, mention_type, position, context,
		        sentiment, confidence, extracted_text, COALESCE(competitor_name, ''), created_at
		 FROM mentions WHERE topic_id = $1 AND created_at >= $2
		 ORDER BY created_at, position`,
		topicID, since)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list mentions for topic %s", topicID)
	}
	defer rows.Close()

	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		var mentionType, sentiment string
		if err := rows.Scan(&m.ID, &m.PromptID, &m.TopicID, &m.PromptResultID, &m.Provider, &mentionType,
			&m.Position, &m.Context, &sentiment, &m.Confidence, &m.ExtractedText, &m.CompetitorName,
			&m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		m.Type = models.MentionType(mentionType)
		m.Sentiment = models.Sentiment(sentiment)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate mentions")
}
