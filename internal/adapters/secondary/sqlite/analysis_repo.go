package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"gradcam-service/internal/core/domain"
	output "gradcam-service/internal/core/ports/output"
)

const analysisColumns = `id, created_at, request_id, filename, format, width, height,
	class_index, label, score, target_explicit,
	heatmap_height, heatmap_width, flat, duration_ms`

// Store keeps analysis history in a local SQLite file.
type Store struct {
	db *sql.DB
}

var _ output.AnalysisRepository = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS analyses (
  id TEXT PRIMARY KEY,
  created_at DATETIME NOT NULL,
  request_id TEXT NOT NULL DEFAULT '',
  filename TEXT NOT NULL DEFAULT '',
  format TEXT NOT NULL DEFAULT '',
  width INTEGER NOT NULL,
  height INTEGER NOT NULL,
  class_index INTEGER NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  score REAL NOT NULL,
  target_explicit INTEGER NOT NULL DEFAULT 0,
  heatmap_height INTEGER NOT NULL,
  heatmap_width INTEGER NOT NULL,
  flat INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS analyses_created_at ON analyses(created_at);
`)
	return err
}

func (s *Store) Create(ctx context.Context, a *domain.Analysis) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analyses(`+analysisColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, a.ID.String(), a.CreatedAt.UTC(), a.RequestID, a.Filename, a.Format, a.Width, a.Height,
		a.ClassIndex, a.Label, float64(a.Score), a.TargetExplicit,
		a.HeatmapHeight, a.HeatmapWidth, a.Flat, a.DurationMS)
	if err != nil {
		if isConstraint(err) {
			return domain.ErrAnalysisConflict
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id=?;`, id.String())
	a, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis by id: %w", err)
	}
	return a, nil
}

func (s *Store) List(ctx context.Context, filter output.ListFilter) ([]*domain.Analysis, int, error) {
	where := "1=1"
	var args []any
	if filter.Label != "" {
		where = "label=?"
		args = append(args, filter.Label)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analyses WHERE `+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+analysisColumns+` FROM analyses WHERE `+where+`
ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?;
`, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := []*domain.Analysis{}
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*domain.Analysis, error) {
	var (
		a     domain.Analysis
		id    string
		score float64
	)
	err := row.Scan(&id, &a.CreatedAt, &a.RequestID, &a.Filename, &a.Format, &a.Width, &a.Height,
		&a.ClassIndex, &a.Label, &score, &a.TargetExplicit,
		&a.HeatmapHeight, &a.HeatmapWidth, &a.Flat, &a.DurationMS)
	if err != nil {
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAnalysisID, id)
	}
	a.Score = float32(score)
	return &a, nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
