package records_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/records"
)

func TestNormalize_SpeedRoundTripsViolationDate(t *testing.T) {
	t.Parallel()

	rec, err := records.Normalize(domain.KindSpeed, map[string]any{
		"address":        "3450 W 71ST ST",
		"camera_id":      "CHI120",
		"violation_date": "2024-03-01T12:00:00",
		"violations":     "12",
		"latitude":       "41.7639",
		"longitude":      "-87.7097",
	})
	require.NoError(t, err)

	m := rec.ToMap()
	assert.Equal(t, "2024-03-01T12:00:00", m["violation_date"])
	assert.Equal(t, "CHI120", m["camera_id"])
	assert.Equal(t, int64(12), m["violations"])
	assert.InDelta(t, 41.7639, m["latitude"], 1e-9)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), rec.Timestamp())
}

func TestNormalize_SpeedDefaults(t *testing.T) {
	t.Parallel()

	rec, err := records.Normalize(domain.KindSpeed, map[string]any{
		"violation_date": "2024-03-01T00:00:00.000",
		"unexpected":     "ignored",
	})
	require.NoError(t, err)

	speed, ok := rec.(*records.SpeedRecord)
	require.True(t, ok)
	assert.InDelta(t, 0.0, speed.Latitude, 0)
	assert.InDelta(t, 0.0, speed.Longitude, 0)
	assert.Equal(t, int64(0), speed.Violations)
	assert.Empty(t, speed.CameraID)
	assert.Empty(t, speed.Address)
	assert.NotContains(t, rec.ToMap(), "unexpected")
}

func TestNormalize_RedlightIncludesIntersection(t *testing.T) {
	t.Parallel()

	rec, err := records.Normalize(domain.KindRedlight, map[string]any{
		"intersection":   "ASHLAND AND 71ST",
		"camera_id":      "1234",
		"violation_date": "2024-02-29T00:00:00.000",
		"violations":     float64(4),
	})
	require.NoError(t, err)

	m := rec.ToMap()
	assert.Equal(t, "ASHLAND AND 71ST", m["intersection"])
	assert.Equal(t, "2024-02-29T00:00:00", m["violation_date"])
	assert.Equal(t, int64(4), m["violations"])
	assert.Equal(t, "1234@2024-02-29T00:00:00", rec.Key())
	assert.Equal(t, domain.KindRedlight, rec.Kind())
}

func TestNormalize_CrashOptionalFieldsAreNull(t *testing.T) {
	t.Parallel()

	rec, err := records.Normalize(domain.KindCrash, map[string]any{
		"crash_record_id":   "abc123",
		"crash_date":        "2023-12-31T23:15:00.000",
		"weather_condition": "CLEAR",
		"street_no":         "1600",
		"injuries_total":    "",
		"latitude":          "41.88",
	})
	require.NoError(t, err)

	m := rec.ToMap()
	assert.Equal(t, "abc123", m["crash_record_id"])
	assert.Equal(t, "2023-12-31T23:15:00", m["crash_date"])
	assert.Equal(t, "CLEAR", m["weather_condition"])
	assert.Equal(t, int64(1600), m["street_no"])
	assert.Nil(t, m["injuries_total"])
	assert.Nil(t, m["damage"])
	assert.Nil(t, m["longitude"])
	assert.Contains(t, m, "damage")
	assert.Equal(t, "abc123", rec.Key())
}

func TestNormalize_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      domain.Kind
		raw       map[string]any
		wantField string
	}{
		{
			name:      "crash without id",
			kind:      domain.KindCrash,
			raw:       map[string]any{"crash_date": "2024-01-01T00:00:00"},
			wantField: "crash_record_id",
		},
		{
			name:      "crash with bad date",
			kind:      domain.KindCrash,
			raw:       map[string]any{"crash_record_id": "x", "crash_date": "last tuesday"},
			wantField: "crash_date",
		},
		{
			name:      "speed without date",
			kind:      domain.KindSpeed,
			raw:       map[string]any{"camera_id": "CHI1"},
			wantField: "violation_date",
		},
		{
			name:      "redlight with non-numeric violations",
			kind:      domain.KindRedlight,
			raw:       map[string]any{"violation_date": "2024-01-01T00:00:00", "violations": "many"},
			wantField: "violations",
		},
		{
			name:      "crash with fractional street number",
			kind:      domain.KindCrash,
			raw:       map[string]any{"crash_record_id": "x", "crash_date": "2024-01-01T00:00:00", "street_no": 12.5},
			wantField: "street_no",
		},
		{
			name:      "speed with NaN latitude",
			kind:      domain.KindSpeed,
			raw:       map[string]any{"violation_date": "2024-03-01T12:00:00", "latitude": "NaN"},
			wantField: "latitude",
		},
		{
			name:      "redlight with infinite longitude",
			kind:      domain.KindRedlight,
			raw:       map[string]any{"violation_date": "2024-03-01T12:00:00", "longitude": "-Inf"},
			wantField: "longitude",
		},
		{
			name:      "crash with Infinity as json number",
			kind:      domain.KindCrash,
			raw:       map[string]any{"crash_record_id": "x", "crash_date": "2024-01-01T00:00:00", "latitude": json.Number("Infinity")},
			wantField: "latitude",
		},
		{
			name:      "speed with violations beyond int64",
			kind:      domain.KindSpeed,
			raw:       map[string]any{"violation_date": "2024-03-01T12:00:00", "violations": "1e20"},
			wantField: "violations",
		},
		{
			name:      "crash with injuries below int64",
			kind:      domain.KindCrash,
			raw:       map[string]any{"crash_record_id": "x", "crash_date": "2024-01-01T00:00:00", "injuries_total": -1e19},
			wantField: "injuries_total",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec, err := records.Normalize(tt.kind, tt.raw)
			require.Error(t, err)
			assert.Nil(t, rec)

			var malformed *records.MalformedRecordError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.wantField, malformed.Field)
			assert.Equal(t, tt.kind, malformed.Kind)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestNormalize_LargeIntegerKeepsPrecision(t *testing.T) {
	t.Parallel()

	// 2^53 + 1 is not representable as a float64.
	rec, err := records.Normalize(domain.KindSpeed, map[string]any{
		"violation_date": "2024-03-01T12:00:00",
		"violations":     json.Number("9007199254740993"),
	})
	require.NoError(t, err)

	speed, ok := rec.(*records.SpeedRecord)
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), speed.Violations)
}

func TestNormalize_MalformedNamesRawValue(t *testing.T) {
	t.Parallel()

	_, err := records.Normalize(domain.KindSpeed, map[string]any{"violation_date": "2024-99-01"})

	var malformed *records.MalformedRecordError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "2024-99-01", malformed.Value)
	assert.Contains(t, err.Error(), "2024-99-01")
}

func TestNormalize_UnknownKind(t *testing.T) {
	t.Parallel()

	rec, err := records.Normalize("bicycle", map[string]any{})
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestNormalize_PublishedFormRenormalizes(t *testing.T) {
	t.Parallel()

	inputs := map[domain.Kind]map[string]any{
		domain.KindCrash: {
			"crash_record_id": "id-1", "crash_date": "2024-03-01T12:00:00",
			"street_no": "10", "latitude": "41.5", "damage": "OVER $1,500",
		},
		domain.KindRedlight: {
			"intersection": "A AND B", "camera_id": "77", "violation_date": "2024-03-01T12:00:00",
			"violations": "3", "latitude": "41.1", "longitude": "-87.2",
		},
		domain.KindSpeed: {
			"camera_id": "CHI9", "violation_date": "2024-03-01T12:00:00", "violations": "8",
		},
	}

	for kind, raw := range inputs {
		first, err := records.Normalize(kind, raw)
		require.NoError(t, err)

		// Published messages are JSON, so go through an encode/decode cycle.
		payload, err := json.Marshal(first.ToMap())
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(payload, &decoded))

		second, err := records.Normalize(kind, decoded)
		require.NoError(t, err)
		assert.Equal(t, first, second, string(kind))
	}
}

func TestNormalizePage(t *testing.T) {
	t.Parallel()

	page := []map[string]any{
		{"violation_date": "2024-03-01T10:00:00"},
		{"violation_date": "2024-03-02T09:00:00"},
		{"violation_date": "2024-02-28T23:00:00"},
	}

	recs, err := records.NormalizePage(domain.KindSpeed, page)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	latest, ok := records.MaxTimestamp(recs)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), latest)

	page = append(page, map[string]any{"violation_date": "garbage"})
	recs, err = records.NormalizePage(domain.KindSpeed, page)
	assert.Nil(t, recs)

	var malformed *records.MalformedRecordError
	assert.True(t, errors.As(err, &malformed))
	assert.Contains(t, err.Error(), "record 3")
}

func TestMaxTimestamp_Empty(t *testing.T) {
	t.Parallel()

	_, ok := records.MaxTimestamp(nil)
	assert.False(t, ok)
}
