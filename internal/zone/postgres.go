package zone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/common/database"
	"github.com/dokterku/presensi/internal/metrics"
)

// PostgresStore reads work zones from the work_locations table
type PostgresStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewPostgresStore creates a zone store backed by PostgreSQL
func NewPostgresStore(db *database.PostgresDB, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With(zap.String("component", "zone_store")),
	}
}

// InitSchema creates the work_locations table if needed
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS work_locations (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
			longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
			radius_meters DOUBLE PRECISION NOT NULL CHECK (radius_meters > 0),
			allowed_shifts TEXT[] NOT NULL DEFAULT '{}',
			strict_geofence BOOLEAN NOT NULL DEFAULT false,
			gps_accuracy_required DOUBLE PRECISION NOT NULL DEFAULT 50,
			require_photo BOOLEAN NOT NULL DEFAULT false,
			is_active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_locations_active ON work_locations(is_active)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

const zoneColumns = `id, name, latitude, longitude, radius_meters, allowed_shifts,
	strict_geofence, gps_accuracy_required, require_photo, is_active, updated_at`

// GetZone returns an active zone by id, or ErrNotFound
func (s *PostgresStore) GetZone(ctx context.Context, id string) (*WorkZone, error) {
	start := time.Now()
	row := s.db.Pool.QueryRow(ctx,
		`SELECT `+zoneColumns+` FROM work_locations WHERE id = $1 AND is_active = true`, id)

	z, err := scanZone(row)
	metrics.RecordDBQuery("select", "work_locations", time.Since(start))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query work zone: %w", err)
	}
	return z, nil
}

// ListActiveZones returns every active zone ordered by name
func (s *PostgresStore) ListActiveZones(ctx context.Context) ([]WorkZone, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+zoneColumns+` FROM work_locations WHERE is_active = true ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query work zones: %w", err)
	}
	defer rows.Close()

	zones := make([]WorkZone, 0)
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			s.logger.Warn("Skipping unreadable work zone row", zap.Error(err))
			continue
		}
		zones = append(zones, *z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work zones: %w", err)
	}
	return zones, nil
}

// Upsert inserts or replaces a zone. The admin collaborator owns zone data;
// this exists for seeding and tests.
func (s *PostgresStore) Upsert(ctx context.Context, z WorkZone) error {
	valid, err := NewWorkZone(z)
	if err != nil {
		return err
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO work_locations (id, name, latitude, longitude, radius_meters, allowed_shifts,
			strict_geofence, gps_accuracy_required, require_photo, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			radius_meters = EXCLUDED.radius_meters,
			allowed_shifts = EXCLUDED.allowed_shifts,
			strict_geofence = EXCLUDED.strict_geofence,
			gps_accuracy_required = EXCLUDED.gps_accuracy_required,
			require_photo = EXCLUDED.require_photo,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`, valid.ID, valid.Name, valid.Center.Latitude, valid.Center.Longitude, valid.RadiusMeters,
		valid.AllowedShifts, valid.StrictGeofence, valid.GPSAccuracyRequired, valid.RequirePhoto, valid.Active)
	if err != nil {
		return fmt.Errorf("upsert work zone: %w", err)
	}

	s.logger.Info("Work zone saved", zap.String("zone_id", valid.ID), zap.Bool("active", valid.Active))
	return nil
}

func scanZone(row pgx.Row) (*WorkZone, error) {
	var z WorkZone
	err := row.Scan(&z.ID, &z.Name, &z.Center.Latitude, &z.Center.Longitude, &z.RadiusMeters,
		&z.AllowedShifts, &z.StrictGeofence, &z.GPSAccuracyRequired, &z.RequirePhoto, &z.Active, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	valid, err := NewWorkZone(z)
	if err != nil {
		return nil, err
	}
	return &valid, nil
}
