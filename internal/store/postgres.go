// Package store persists accepted feedback at the collection endpoint.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedback-widget/internal/models"
)

// ErrNotFound is returned when a feedback row does not exist.
var ErrNotFound = errors.New("store: feedback not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Feedback is an accepted submission row.
type Feedback struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Type           string          `json:"type"`
	Priority       string          `json:"priority"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	SubmitterName  string          `json:"submitter_name,omitempty"`
	SubmitterEmail string          `json:"submitter_email,omitempty"`
	WidgetVersion  string          `json:"widget_version"`
	Context        *models.Context `json:"context,omitempty"`
	QueueID        string          `json:"queue_id,omitempty"`
	ScreenshotURL  string          `json:"screenshot_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InsertParams collects inputs required to insert a feedback row.
type InsertParams struct {
	ProjectID  string
	Submission models.Submission
	// QueueID is the client's durable record id for redelivered submissions;
	// empty for direct deliveries.
	QueueID string
}

// Insert stores one submission, honoring the queue-id uniqueness for
// at-least-once redelivery. It returns the feedback id and whether an existing
// row was reused.
func (s *Store) Insert(ctx context.Context, p InsertParams) (string, bool, error) {
	var contextJSON []byte
	if p.Submission.Context != nil {
		var err error
		contextJSON, err = json.Marshal(p.Submission.Context)
		if err != nil {
			return "", false, fmt.Errorf("marshal context: %w", err)
		}
	}

	id := uuid.NewString()
	var queueID *string
	if p.QueueID != "" {
		queueID = &p.QueueID
	}

	query := `
		INSERT INTO feedback
			(id, project_id, type, priority, title, description,
			 submitter_name, submitter_email, widget_version, context, queue_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (project_id, queue_id) WHERE queue_id IS NOT NULL DO NOTHING
		RETURNING id`
	err := s.pool.QueryRow(ctx, query,
		id, p.ProjectID, p.Submission.Type, p.Submission.Priority,
		p.Submission.Title, p.Submission.Description,
		nullable(p.Submission.SubmitterName), nullable(p.Submission.SubmitterEmail),
		p.Submission.WidgetVersion, contextJSON, queueID,
	).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("insert feedback: %w", err)
	}

	// Conflict path: the queue id was already delivered; hand back the
	// existing row so the client sees the same feedback id on redelivery.
	var existing string
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM feedback WHERE project_id = $1 AND queue_id = $2`,
		p.ProjectID, p.QueueID,
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("lookup deduplicated feedback: %w", err)
	}
	return existing, true, nil
}

// Get fetches one feedback row by id.
func (s *Store) Get(ctx context.Context, id string) (Feedback, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, type, priority, title, description,
		       COALESCE(submitter_name, ''), COALESCE(submitter_email, ''),
		       widget_version, context, COALESCE(queue_id, ''),
		       COALESCE(screenshot_url, ''), created_at
		FROM feedback WHERE id = $1`, id)
	fb, err := scanFeedback(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Feedback{}, ErrNotFound
	}
	if err != nil {
		return Feedback{}, fmt.Errorf("get feedback: %w", err)
	}
	return fb, nil
}

// List returns the newest feedback for a project.
func (s *Store) List(ctx context.Context, projectID string, limit int) ([]Feedback, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, type, priority, title, description,
		       COALESCE(submitter_name, ''), COALESCE(submitter_email, ''),
		       widget_version, context, COALESCE(queue_id, ''),
		       COALESCE(screenshot_url, ''), created_at
		FROM feedback WHERE project_id = $1
		ORDER BY created_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// SetScreenshotURL records where an uploaded screenshot was stored.
func (s *Store) SetScreenshotURL(ctx context.Context, id, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feedback SET screenshot_url = $2 WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("set screenshot url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (Feedback, error) {
	var fb Feedback
	var contextJSON []byte
	err := row.Scan(&fb.ID, &fb.ProjectID, &fb.Type, &fb.Priority, &fb.Title,
		&fb.Description, &fb.SubmitterName, &fb.SubmitterEmail,
		&fb.WidgetVersion, &contextJSON, &fb.QueueID, &fb.ScreenshotURL,
		&fb.CreatedAt)
	if err != nil {
		return Feedback{}, err
	}
	if len(contextJSON) > 0 {
		var c models.Context
		if err := json.Unmarshal(contextJSON, &c); err == nil {
			fb.Context = &c
		}
	}
	return fb, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
