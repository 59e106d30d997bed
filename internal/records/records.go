// Package records converts raw Socrata objects into the three normalized
// traffic-safety schemas and back into flat publishable maps.
package records

import (
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

// Record is a normalized dataset row.
type Record interface {
	Kind() domain.Kind
	// Timestamp is the record's date field at second precision. It drives
	// the stream watermark.
	Timestamp() time.Time
	// Key identifies the row in the relational store.
	Key() string
	// ToMap returns the flat form published on the stream.
	ToMap() map[string]any
}

// Normalize converts one raw object into the schema selected by kind.
// Unknown keys are ignored and missing optional keys take their defaults.
func Normalize(kind domain.Kind, values map[string]any) (Record, error) {
	r := raw{kind: kind, values: values}

	var (
		rec Record
		err error
	)
	switch kind {
	case domain.KindCrash:
		rec, err = newCrash(r)
	case domain.KindRedlight:
		rec, err = newRedlight(r)
	case domain.KindSpeed:
		rec, err = newSpeed(r)
	default:
		err = fmt.Errorf("%w %q", domain.ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// NormalizePage converts a whole page, failing on the first malformed record.
func NormalizePage(kind domain.Kind, page []map[string]any) ([]Record, error) {
	out := make([]Record, 0, len(page))
	for i, values := range page {
		rec, err := Normalize(kind, values)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// MaxTimestamp returns the latest Timestamp in recs and false when recs is empty.
func MaxTimestamp(recs []Record) (time.Time, bool) {
	var latest time.Time
	for i, rec := range recs {
		if ts := rec.Timestamp(); i == 0 || ts.After(latest) {
			latest = ts
		}
	}
	return latest, len(recs) > 0
}

// CrashRecord is a row of the traffic crashes dataset. Optional fields are
// nil when the source omitted them.
type CrashRecord struct {
	CrashRecordID         string
	CrashDate             time.Time
	DeviceCondition       *string
	WeatherCondition      *string
	LightingCondition     *string
	RoadwaySurfaceCond    *string
	Damage                *string
	FirstCrashType        *string
	PrimContributoryCause *string
	SecContributoryCause  *string
	StreetNo              *int64
	StreetDirection       *string
	StreetName            *string
	InjuriesTotal         *int64
	Latitude              *float64
	Longitude             *float64
}

func newCrash(r raw) (*CrashRecord, error) {
	id := r.optString("crash_record_id")
	if id == nil {
		return nil, r.malformed("crash_record_id", nil, errMissing)
	}
	date, err := r.timestamp("crash_date")
	if err != nil {
		return nil, err
	}

	rec := &CrashRecord{
		CrashRecordID:         *id,
		CrashDate:             date.Truncate(time.Second),
		DeviceCondition:       r.optString("device_condition"),
		WeatherCondition:      r.optString("weather_condition"),
		LightingCondition:     r.optString("lighting_condition"),
		RoadwaySurfaceCond:    r.optString("roadway_surface_cond"),
		Damage:                r.optString("damage"),
		FirstCrashType:        r.optString("first_crash_type"),
		PrimContributoryCause: r.optString("prim_contributory_cause"),
		SecContributoryCause:  r.optString("sec_contributory_cause"),
		StreetDirection:       r.optString("street_direction"),
		StreetName:            r.optString("street_name"),
	}
	if rec.StreetNo, err = r.optInt("street_no"); err != nil {
		return nil, err
	}
	if rec.InjuriesTotal, err = r.optInt("injuries_total"); err != nil {
		return nil, err
	}
	if rec.Latitude, err = r.optFloat("latitude"); err != nil {
		return nil, err
	}
	if rec.Longitude, err = r.optFloat("longitude"); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *CrashRecord) Kind() domain.Kind    { return domain.KindCrash }
func (c *CrashRecord) Timestamp() time.Time { return c.CrashDate }
func (c *CrashRecord) Key() string          { return c.CrashRecordID }

func (c *CrashRecord) ToMap() map[string]any {
	return map[string]any{
		"crash_record_id":         c.CrashRecordID,
		"crash_date":              domain.FormatTimestamp(c.CrashDate),
		"device_condition":        nullable(c.DeviceCondition),
		"weather_condition":       nullable(c.WeatherCondition),
		"lighting_condition":      nullable(c.LightingCondition),
		"roadway_surface_cond":    nullable(c.RoadwaySurfaceCond),
		"damage":                  nullable(c.Damage),
		"first_crash_type":        nullable(c.FirstCrashType),
		"prim_contributory_cause": nullable(c.PrimContributoryCause),
		"sec_contributory_cause":  nullable(c.SecContributoryCause),
		"street_no":               nullable(c.StreetNo),
		"street_direction":        nullable(c.StreetDirection),
		"street_name":             nullable(c.StreetName),
		"injuries_total":          nullable(c.InjuriesTotal),
		"latitude":                nullable(c.Latitude),
		"longitude":               nullable(c.Longitude),
	}
}

// CameraReading holds the fields shared by red-light and speed camera
// violation rows. Missing fields default to "" or zero.
type CameraReading struct {
	CameraID      string
	Address       string
	ViolationDate time.Time
	Violations    int64
	Latitude      float64
	Longitude     float64
}

func newCameraReading(r raw) (CameraReading, error) {
	date, err := r.timestamp("violation_date")
	if err != nil {
		return CameraReading{}, err
	}
	c := CameraReading{
		CameraID:      r.stringOr("camera_id", ""),
		Address:       r.stringOr("address", ""),
		ViolationDate: date.Truncate(time.Second),
	}
	if c.Violations, err = r.intOr("violations", 0); err != nil {
		return CameraReading{}, err
	}
	if c.Latitude, err = r.floatOr("latitude", 0); err != nil {
		return CameraReading{}, err
	}
	if c.Longitude, err = r.floatOr("longitude", 0); err != nil {
		return CameraReading{}, err
	}
	return c, nil
}

func (c CameraReading) Timestamp() time.Time { return c.ViolationDate }
func (c CameraReading) Key() string {
	return c.CameraID + "@" + domain.FormatTimestamp(c.ViolationDate)
}

func (c CameraReading) fields() map[string]any {
	return map[string]any{
		"camera_id":      c.CameraID,
		"address":        c.Address,
		"violation_date": domain.FormatTimestamp(c.ViolationDate),
		"violations":     c.Violations,
		"latitude":       c.Latitude,
		"longitude":      c.Longitude,
	}
}

// RedlightRecord is a row of the red light camera violations dataset.
type RedlightRecord struct {
	CameraReading
	Intersection string
}

func newRedlight(r raw) (*RedlightRecord, error) {
	reading, err := newCameraReading(r)
	if err != nil {
		return nil, err
	}
	return &RedlightRecord{CameraReading: reading, Intersection: r.stringOr("intersection", "")}, nil
}

func (*RedlightRecord) Kind() domain.Kind { return domain.KindRedlight }

func (r *RedlightRecord) ToMap() map[string]any {
	m := r.fields()
	m["intersection"] = r.Intersection
	return m
}

// SpeedRecord is a row of the speed camera violations dataset.
type SpeedRecord struct {
	CameraReading
}

func newSpeed(r raw) (*SpeedRecord, error) {
	reading, err := newCameraReading(r)
	if err != nil {
		return nil, err
	}
	return &SpeedRecord{CameraReading: reading}, nil
}

func (*SpeedRecord) Kind() domain.Kind { return domain.KindSpeed }

func (s *SpeedRecord) ToMap() map[string]any {
	return s.fields()
}

// nullable turns a nil pointer into an untyped nil so it encodes as JSON null.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
