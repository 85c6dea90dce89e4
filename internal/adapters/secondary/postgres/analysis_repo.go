package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gradcam-service/internal/core/domain"
	output "gradcam-service/internal/core/ports/output"
)

const schema = `
	CREATE TABLE IF NOT EXISTS gradcam_analysis (
		id              UUID PRIMARY KEY,
		created_at      TIMESTAMPTZ NOT NULL,
		request_id      TEXT NOT NULL DEFAULT '',
		filename        TEXT NOT NULL DEFAULT '',
		format          TEXT NOT NULL DEFAULT '',
		width           INTEGER NOT NULL,
		height          INTEGER NOT NULL,
		class_index     INTEGER NOT NULL,
		label           TEXT NOT NULL DEFAULT '',
		score           REAL NOT NULL,
		target_explicit BOOLEAN NOT NULL DEFAULT FALSE,
		heatmap_height  INTEGER NOT NULL,
		heatmap_width   INTEGER NOT NULL,
		flat            BOOLEAN NOT NULL DEFAULT FALSE,
		duration_ms     BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS gradcam_analysis_created_at_idx ON gradcam_analysis (created_at DESC);
`

const analysisColumns = `
	id, created_at, request_id, filename, format, width, height,
	class_index, label, score, target_explicit,
	heatmap_height, heatmap_width, flat, duration_ms
`

type analysisRepo struct {
	pool *pgxpool.Pool
}

// NewAnalysisRepository creates a new AnalysisRepository
func NewAnalysisRepository(pool *pgxpool.Pool) output.AnalysisRepository {
	return &analysisRepo{pool: pool}
}

// EnsureSchema creates the history table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure analysis schema: %w", err)
	}
	return nil
}

func (r *analysisRepo) Create(ctx context.Context, a *domain.Analysis) error {
	query := `
		INSERT INTO gradcam_analysis (` + analysisColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.CreatedAt, a.RequestID, a.Filename, a.Format, a.Width, a.Height,
		a.ClassIndex, a.Label, a.Score, a.TargetExplicit,
		a.HeatmapHeight, a.HeatmapWidth, a.Flat, a.DurationMS,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAnalysisConflict
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (r *analysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM gradcam_analysis WHERE id = $1`

	a, err := scanAnalysis(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("get analysis by id: %w", err)
	}
	return a, nil
}

func (r *analysisRepo) List(ctx context.Context, filter output.ListFilter) ([]*domain.Analysis, int, error) {
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argPos := 1

	if filter.Label != "" {
		conditions = append(conditions, fmt.Sprintf("label = $%d", argPos))
		args = append(args, filter.Label)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM gradcam_analysis WHERE %s`, whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM gradcam_analysis
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, analysisColumns, whereClause, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []*domain.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate analyses: %w", err)
	}
	return analyses, total, nil
}

func scanAnalysis(row pgx.Row) (*domain.Analysis, error) {
	var a domain.Analysis
	err := row.Scan(
		&a.ID, &a.CreatedAt, &a.RequestID, &a.Filename, &a.Format, &a.Width, &a.Height,
		&a.ClassIndex, &a.Label, &a.Score, &a.TargetExplicit,
		&a.HeatmapHeight, &a.HeatmapWidth, &a.Flat, &a.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
