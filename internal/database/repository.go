package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/records"
)

// Repository writes normalized records into the crashes, redlight_cam and
// speed_cam tables. The geometry column is left to database triggers.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Upsert inserts rec or updates the existing row with the same key.
func (r *Repository) Upsert(ctx context.Context, rec records.Record) error {
	switch v := rec.(type) {
	case *records.CrashRecord:
		return r.UpsertCrash(ctx, v)
	case *records.RedlightRecord:
		return r.UpsertRedlight(ctx, v)
	case *records.SpeedRecord:
		return r.UpsertSpeed(ctx, v)
	default:
		return fmt.Errorf("upsert %T: %w", rec, domain.ErrUnknownKind)
	}
}

const upsertCrashQuery = `
	INSERT INTO crashes (
		crash_record_id, crash_date, device_condition, weather_condition,
		lighting_condition, roadway_surface_cond, damage, first_crash_type,
		prim_contributory_cause, sec_contributory_cause, street_no,
		street_direction, street_name, injuries_total, latitude, longitude
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (crash_record_id) DO UPDATE SET
		crash_date = EXCLUDED.crash_date,
		device_condition = EXCLUDED.device_condition,
		weather_condition = EXCLUDED.weather_condition,
		lighting_condition = EXCLUDED.lighting_condition,
		roadway_surface_cond = EXCLUDED.roadway_surface_cond,
		damage = EXCLUDED.damage,
		first_crash_type = EXCLUDED.first_crash_type,
		prim_contributory_cause = EXCLUDED.prim_contributory_cause,
		sec_contributory_cause = EXCLUDED.sec_contributory_cause,
		street_no = EXCLUDED.street_no,
		street_direction = EXCLUDED.street_direction,
		street_name = EXCLUDED.street_name,
		injuries_total = EXCLUDED.injuries_total,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude
`

// UpsertCrash writes one crash keyed by crash_record_id.
func (r *Repository) UpsertCrash(ctx context.Context, c *records.CrashRecord) error {
	_, err := r.db.ExecContext(ctx, upsertCrashQuery,
		c.CrashRecordID,
		c.CrashDate,
		deref(c.DeviceCondition),
		deref(c.WeatherCondition),
		deref(c.LightingCondition),
		deref(c.RoadwaySurfaceCond),
		deref(c.Damage),
		deref(c.FirstCrashType),
		deref(c.PrimContributoryCause),
		deref(c.SecContributoryCause),
		deref(c.StreetNo),
		deref(c.StreetDirection),
		deref(c.StreetName),
		deref(c.InjuriesTotal),
		deref(c.Latitude),
		deref(c.Longitude),
	)
	if err != nil {
		return fmt.Errorf("upsert crash %s: %w", c.CrashRecordID, err)
	}
	return nil
}

const upsertRedlightQuery = `
	INSERT INTO redlight_cam (
		intersection, camera_id, address, violation_date, violations, latitude, longitude
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (camera_id, violation_date) DO UPDATE SET
		intersection = EXCLUDED.intersection,
		address = EXCLUDED.address,
		violations = EXCLUDED.violations,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude
`

// UpsertRedlight writes one red light camera reading keyed by
// (camera_id, violation_date).
func (r *Repository) UpsertRedlight(ctx context.Context, rec *records.RedlightRecord) error {
	_, err := r.db.ExecContext(ctx, upsertRedlightQuery,
		rec.Intersection,
		rec.CameraID,
		rec.Address,
		rec.ViolationDate,
		rec.Violations,
		rec.Latitude,
		rec.Longitude,
	)
	if err != nil {
		return fmt.Errorf("upsert redlight %s: %w", rec.Key(), err)
	}
	return nil
}

const upsertSpeedQuery = `
	INSERT INTO speed_cam (
		address, camera_id, violation_date, violations, latitude, longitude
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (camera_id, violation_date) DO UPDATE SET
		address = EXCLUDED.address,
		violations = EXCLUDED.violations,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude
`

// UpsertSpeed writes one speed camera reading keyed by
// (camera_id, violation_date).
func (r *Repository) UpsertSpeed(ctx context.Context, rec *records.SpeedRecord) error {
	_, err := r.db.ExecContext(ctx, upsertSpeedQuery,
		rec.Address,
		rec.CameraID,
		rec.ViolationDate,
		rec.Violations,
		rec.Latitude,
		rec.Longitude,
	)
	if err != nil {
		return fmt.Errorf("upsert speed %s: %w", rec.Key(), err)
	}
	return nil
}

// CameraCluster is the per-camera violation total over a date range.
type CameraCluster struct {
	CameraID     string  `db:"camera_id"`
	Address      string  `db:"address"`
	Intersection string  `db:"intersection"`
	Violations   int64   `db:"violations"`
	Latitude     float64 `db:"latitude"`
	Longitude    float64 `db:"longitude"`
}

// ClusterFilter bounds violation_date to [From, To). Nil bounds are open.
type ClusterFilter struct {
	From *time.Time
	To   *time.Time
}

const cameraClusterQuery = `
	SELECT camera_id,
		MAX(address) AS address,
		%s AS intersection,
		COALESCE(SUM(violations), 0) AS violations,
		MAX(latitude) AS latitude,
		MAX(longitude) AS longitude
	FROM %s
	WHERE ($1::timestamp IS NULL OR violation_date >= $1)
		AND ($2::timestamp IS NULL OR violation_date < $2)
	GROUP BY camera_id
	ORDER BY camera_id
`

// CameraClusters sums violations per camera for a camera stream.
func (r *Repository) CameraClusters(ctx context.Context, kind domain.Kind, filter ClusterFilter) ([]CameraCluster, error) {
	var table, intersection string
	switch kind {
	case domain.KindRedlight:
		table, intersection = domain.StreamRedlight, "MAX(intersection)"
	case domain.KindSpeed:
		table, intersection = domain.StreamSpeed, "''"
	default:
		return nil, fmt.Errorf("camera clusters for %q: %w", kind, domain.ErrUnknownKind)
	}

	query := fmt.Sprintf(cameraClusterQuery, intersection, table)
	clusters := []CameraCluster{}
	if err := r.db.SelectContext(ctx, &clusters, query, deref(filter.From), deref(filter.To)); err != nil {
		return nil, fmt.Errorf("camera clusters for %s: %w", table, err)
	}
	return clusters, nil
}

// deref turns a nil pointer into an untyped nil so the driver sends NULL.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
