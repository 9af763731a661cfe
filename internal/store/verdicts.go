// Package store persists attendance verdicts in PostgreSQL and serializes
// concurrent submissions through Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/database"
	"github.com/dokterku/presensi/internal/common/logger"
	"github.com/dokterku/presensi/internal/metrics"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/risk"
)

const (
	verdictTable   = "location_risk_verdicts"
	defaultListLen = 50
	maxListLen     = 500
)

// VerdictFilter narrows ListVerdicts. Zero fields match everything.
type VerdictFilter struct {
	Action    risk.Action
	SubjectID string
	ZoneID    string
	Limit     int
}

// VerdictStore is the PostgreSQL audit store for verdicts. The unique
// constraint on (subject_id, attendance_type, attendance_date) is the final
// guard against duplicate attendance.
type VerdictStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
	perf   *logger.PerformanceLogger
}

// NewVerdictStore creates a verdict store
func NewVerdictStore(db *database.PostgresDB, log *zap.Logger) *VerdictStore {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "verdict_store"))
	return &VerdictStore{
		db:     db,
		logger: log,
		perf:   logger.NewPerformanceLogger(log, logger.DefaultSlowQuery),
	}
}

func (s *VerdictStore) observe(op string, start time.Time, err error) {
	d := time.Since(start)
	metrics.RecordDBQuery(op, verdictTable, d)
	s.perf.LogDatabaseQuery(op, verdictTable, d, err)
}

// InitSchema creates the verdict table and its indexes if needed
func (s *VerdictStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS location_risk_verdicts (
			id VARCHAR(64) PRIMARY KEY,
			subject_id VARCHAR(128) NOT NULL,
			zone_id VARCHAR(64) NOT NULL,
			attendance_type VARCHAR(16) NOT NULL CHECK (attendance_type IN ('check_in', 'check_out')),
			attendance_date DATE NOT NULL,
			shift VARCHAR(32) NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			accuracy_meters DOUBLE PRECISION NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			risk_score SMALLINT NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
			risk_level VARCHAR(16) NOT NULL,
			is_spoofed BOOLEAN NOT NULL,
			action_taken VARCHAR(16) NOT NULL,
			signals JSONB NOT NULL,
			travel JSONB NOT NULL,
			geofence JSONB NOT NULL,
			factors JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT uq_verdict_subject_type_date UNIQUE (subject_id, attendance_type, attendance_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_subject_created ON location_risk_verdicts(subject_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_action_created ON location_risk_verdicts(action_taken, created_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

const verdictColumns = `id, subject_id, zone_id, attendance_type, attendance_date::text, shift,
	latitude, longitude, accuracy_meters, captured_at, risk_score, risk_level, is_spoofed,
	action_taken, signals, travel, geofence, factors, created_at`

// SaveVerdict inserts v. A verdict for the same subject, type and day yields
// presensi.ErrDuplicateVerdict.
func (s *VerdictStore) SaveVerdict(ctx context.Context, v *presensi.RiskVerdict) error {
	signalsJSON, err := json.Marshal(v.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	travelJSON, err := json.Marshal(v.Travel)
	if err != nil {
		return fmt.Errorf("encode travel: %w", err)
	}
	geofenceJSON, err := json.Marshal(v.Geofence)
	if err != nil {
		return fmt.Errorf("encode geofence: %w", err)
	}
	factors := v.Factors
	if factors == nil {
		factors = []risk.Factor{}
	}
	factorsJSON, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}

	start := time.Now()
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO location_risk_verdicts (
			id, subject_id, zone_id, attendance_type, attendance_date, shift,
			latitude, longitude, accuracy_meters, captured_at, risk_score, risk_level,
			is_spoofed, action_taken, signals, travel, geofence, factors, created_at
		) VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		v.ID, v.SubjectID, v.ZoneID, string(v.AttendanceType), v.AttendanceDate, v.ShiftTag,
		v.Point.Latitude, v.Point.Longitude, v.Point.AccuracyMeters, v.Point.CapturedAt,
		v.RiskScore, string(v.RiskLevel), v.IsSpoofed, string(v.ActionTaken),
		signalsJSON, travelJSON, geofenceJSON, factorsJSON, v.CreatedAt,
	)
	if database.IsUniqueViolation(err) {
		s.observe("insert", start, nil)
		return fmt.Errorf("%w: %s", presensi.ErrDuplicateVerdict, v.Key())
	}
	s.observe("insert", start, err)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

// FindVerdict returns the verdict recorded for key
func (s *VerdictStore) FindVerdict(ctx context.Context, key presensi.VerdictKey) (*presensi.RiskVerdict, error) {
	return s.queryOne(ctx, "select_key",
		`SELECT `+verdictColumns+` FROM location_risk_verdicts
		 WHERE subject_id = $1 AND attendance_type = $2 AND attendance_date = $3::date`,
		key.SubjectID, string(key.AttendanceType), key.AttendanceDate)
}

// GetVerdict returns a verdict by id
func (s *VerdictStore) GetVerdict(ctx context.Context, id string) (*presensi.RiskVerdict, error) {
	return s.queryOne(ctx, "select",
		`SELECT `+verdictColumns+` FROM location_risk_verdicts WHERE id = $1`, id)
}

// GetLastAttempt returns the most recently recorded attempt of a subject, or nil
func (s *VerdictStore) GetLastAttempt(ctx context.Context, subjectID string) (*presensi.Attempt, error) {
	v, err := s.queryOne(ctx, "select_last",
		`SELECT `+verdictColumns+` FROM location_risk_verdicts
		 WHERE subject_id = $1 ORDER BY created_at DESC LIMIT 1`, subjectID)
	if errors.Is(err, presensi.ErrVerdictNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v.AsAttempt(), nil
}

// ListVerdicts returns verdicts newest first
func (s *VerdictStore) ListVerdicts(ctx context.Context, f VerdictFilter) ([]presensi.RiskVerdict, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Action != "" {
		args = append(args, string(f.Action))
		where = append(where, fmt.Sprintf("action_taken = $%d", len(args)))
	}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		where = append(where, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if f.ZoneID != "" {
		args = append(args, f.ZoneID)
		where = append(where, fmt.Sprintf("zone_id = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLen
	}
	if limit > maxListLen {
		limit = maxListLen
	}
	args = append(args, limit)

	query := `SELECT ` + verdictColumns + ` FROM location_risk_verdicts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	start := time.Now()
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		s.observe("list", start, err)
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := []presensi.RiskVerdict{}
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, *v)
	}
	s.observe("list", start, rows.Err())
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	return verdicts, nil
}

func (s *VerdictStore) queryOne(ctx context.Context, op, query string, args ...interface{}) (*presensi.RiskVerdict, error) {
	start := time.Now()
	v, err := scanVerdict(s.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		s.observe(op, start, nil)
		return nil, presensi.ErrVerdictNotFound
	}
	s.observe(op, start, err)
	if err != nil {
		return nil, fmt.Errorf("query verdict: %w", err)
	}
	return v, nil
}

func scanVerdict(row pgx.Row) (*presensi.RiskVerdict, error) {
	var (
		v                                               presensi.RiskVerdict
		attendanceType, riskLevel, action               string
		signalsJSON, travelJSON, fenceJSON, factorsJSON []byte
	)
	err := row.Scan(
		&v.ID, &v.SubjectID, &v.ZoneID, &attendanceType, &v.AttendanceDate, &v.ShiftTag,
		&v.Point.Latitude, &v.Point.Longitude, &v.Point.AccuracyMeters, &v.Point.CapturedAt,
		&v.RiskScore, &riskLevel, &v.IsSpoofed, &action,
		&signalsJSON, &travelJSON, &fenceJSON, &factorsJSON, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.AttendanceType = presensi.AttendanceType(attendanceType)
	v.RiskLevel = risk.RiskLevel(riskLevel)
	v.ActionTaken = risk.Action(action)

	for _, part := range []struct {
		raw  []byte
		dest interface{}
	}{
		{signalsJSON, &v.Signals},
		{travelJSON, &v.Travel},
		{fenceJSON, &v.Geofence},
		{factorsJSON, &v.Factors},
	} {
		if err := json.Unmarshal(part.raw, part.dest); err != nil {
			return nil, fmt.Errorf("decode verdict %s: %w", v.ID, err)
		}
	}
	v.Point.CapturedAt = v.Point.CapturedAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}
