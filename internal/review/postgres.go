package review

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/database"
	"github.com/dokterku/presensi/internal/metrics"
)

// PostgresStore keeps annotations in verdict_reviews
type PostgresStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresStore creates an annotation store
func NewPostgresStore(db *database.PostgresDB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With(zap.String("component", "review_store")),
	}
}

// InitSchema creates the verdict_reviews table. The verdict table must exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS verdict_reviews (
			id VARCHAR(64) PRIMARY KEY,
			verdict_id VARCHAR(64) NOT NULL REFERENCES location_risk_verdicts(id) ON DELETE RESTRICT,
			reviewed_by VARCHAR(128) NOT NULL,
			decision VARCHAR(32) NOT NULL CHECK (decision IN ('confirmed_spoofing', 'false_positive', 'needs_followup')),
			notes TEXT NOT NULL DEFAULT '',
			reviewed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdict_reviews_verdict ON verdict_reviews(verdict_id, reviewed_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

// SaveAnnotation inserts a
func (s *PostgresStore) SaveAnnotation(ctx context.Context, a *Annotation) error {
	start := time.Now()
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO verdict_reviews (id, verdict_id, reviewed_by, decision, notes, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.VerdictID, a.ReviewedBy, string(a.Decision), a.Notes, a.ReviewedAt)
	metrics.RecordDBQuery("insert", "verdict_reviews", time.Since(start))
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListAnnotations returns the annotations of a verdict, oldest first
func (s *PostgresStore) ListAnnotations(ctx context.Context, verdictID string) ([]Annotation, error) {
	start := time.Now()
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, verdict_id, reviewed_by, decision, notes, reviewed_at
		FROM verdict_reviews WHERE verdict_id = $1 ORDER BY reviewed_at, id`, verdictID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	annotations := []Annotation{}
	for rows.Next() {
		var (
			a        Annotation
			decision string
		)
		if err := rows.Scan(&a.ID, &a.VerdictID, &a.ReviewedBy, &decision, &a.Notes, &a.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		a.Decision = Decision(decision)
		a.ReviewedAt = a.ReviewedAt.UTC()
		annotations = append(annotations, a)
	}
	metrics.RecordDBQuery("list", "verdict_reviews", time.Since(start))
	return annotations, rows.Err()
}
