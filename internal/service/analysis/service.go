package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"videoscope/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound means no analysis exists for the id.
var ErrNotFound = errors.New("analysis not found")

// Service persists completed analyses. Records are written once on job
// completion and only removed by explicit user delete; they have no TTL.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	return &Service{db: db}, nil
}

// Create inserts a new analysis record. A missing id is minted here so
// retried jobs write under a fresh id rather than conflicting.
func (s *Service) Create(ctx context.Context, a *models.Analysis) error {
	if a == nil {
		return errors.New("analysis required")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	items, err := json.Marshal(a.ScopeItems)
	if err != nil {
		return fmt.Errorf("marshal scope items: %w", err)
	}
	summary, err := json.Marshal(a.ProjectSummary)
	if err != nil {
		return fmt.Errorf("marshal project summary: %w", err)
	}
	docs, err := json.Marshal(a.Documents)
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, filename, created_at, transcript, scope_items, project_summary, file_size_mb, documents)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.CreatedAt, a.Transcript, string(items), string(summary), a.FileSizeMB, string(docs),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// List returns all analyses newest-first. Transcripts are included; callers
// wanting a light listing can project fields themselves.
func (s *Service) List(ctx context.Context) ([]*models.Analysis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, created_at, transcript, scope_items, project_summary, file_size_mb, documents
		 FROM analyses ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	return analyses, rows.Err()
}

// Get returns one analysis by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, created_at, transcript, scope_items, project_summary, file_size_mb, documents
		 FROM analyses WHERE id = ?`,
		id,
	)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Delete removes one analysis by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	var (
		a       models.Analysis
		items   string
		summary string
		docs    string
	)
	if err := row.Scan(&a.ID, &a.Filename, &a.CreatedAt, &a.Transcript, &items, &summary, &a.FileSizeMB, &docs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &a.ScopeItems); err != nil {
		return nil, fmt.Errorf("decode scope items: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &a.ProjectSummary); err != nil {
		return nil, fmt.Errorf("decode project summary: %w", err)
	}
	if err := json.Unmarshal([]byte(docs), &a.Documents); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return &a, nil
}
