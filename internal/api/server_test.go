package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

var clusterColumns = []string{"camera_id", "address", "intersection", "violations", "latitude", "longitude"}

func newServer(t *testing.T, deps api.Deps) (*api.Server, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if deps.Clusters == nil {
		deps.Clusters = database.NewRepository(sqlx.NewDb(db, "postgres"))
	}
	srv, err := api.NewServer(api.Config{}, deps)
	require.NoError(t, err)
	return srv, mock
}

func get(t *testing.T, srv *api.Server, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRedlightClusters(t *testing.T) {
	srv, mock := newServer(t, api.Deps{})
	mock.ExpectQuery("SELECT camera_id.+FROM redlight_cam").
		WithArgs(nil, nil).
		WillReturnRows(sqlmock.NewRows(clusterColumns).
			AddRow("CHI003", "3450 W 71ST ST", "KEDZIE AND 71ST", 12, 41.76, -87.71))

	rec := get(t, srv, "/api/v1/redlights/cluster")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc api.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, [2]float64{-87.71, 41.76}, f.Geometry.Coordinates)
	assert.Equal(t, "CHI003", f.Properties["cameraId"])
	assert.Equal(t, "KEDZIE AND 71ST", f.Properties["intersection"])
	assert.InDelta(t, 12, f.Properties["violations"], 0)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSpeedClusters_DateRange(t *testing.T) {
	srv, mock := newServer(t, api.Deps{})
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT camera_id.+FROM speed_cam").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows(clusterColumns).
			AddRow("CHI045", "5420 S CICERO", "", 7, 41.79, -87.74))

	rec := get(t, srv, "/api/v1/speeds/cluster?start=2024-03-01&end=2024-03-31")
	require.Equal(t, http.StatusOK, rec.Code)

	var fc api.FeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.NotContains(t, fc.Features[0].Properties, "intersection")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClusters_BadDates(t *testing.T) {
	srv, _ := newServer(t, api.Deps{})

	for _, target := range []string{
		"/api/v1/speeds/cluster?start=03/01/2024",
		"/api/v1/speeds/cluster?end=yesterday",
		"/api/v1/redlights/cluster?start=2024-03-10&end=2024-03-01",
	} {
		rec := get(t, srv, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestClusters_QueryFailure(t *testing.T) {
	srv, mock := newServer(t, api.Deps{})
	mock.ExpectQuery("SELECT camera_id").WillReturnError(errors.New("connection reset"))

	rec := get(t, srv, "/api/v1/redlights/cluster")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := api.PingChecker("database", api.HealthStatusUnhealthy, func(context.Context) error { return nil })
	down := api.PingChecker("redis", api.HealthStatusDegraded, func(context.Context) error { return errors.New("refused") })

	srv, _ := newServer(t, api.Deps{
		Service: "traffic-crawler",
		Checks:  map[string]api.HealthChecker{"database": ok, "redis": down},
	})

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, api.HealthStatusDegraded, resp.Status)
	assert.Equal(t, "traffic-crawler", resp.Service)
	assert.Equal(t, api.HealthStatusHealthy, resp.Checks["database"].Status)
	assert.Contains(t, resp.Checks["redis"].Message, "refused")
}

func TestHealth_UnhealthyDatabase(t *testing.T) {
	down := api.PingChecker("database", api.HealthStatusUnhealthy, func(context.Context) error { return errors.New("no route") })
	srv, _ := newServer(t, api.Deps{Checks: map[string]api.HealthChecker{"database": down}})

	rec := get(t, srv, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.PageFetched(domain.StreamCrashes)

	srv, _ := newServer(t, api.Deps{Gatherer: reg})
	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `traffic_crawl_pages_fetched_total{stream="crashes"} 1`)
}

func TestWatermarksEndpoint(t *testing.T) {
	store := watermark.NewFileStore(filepath.Join(t.TempDir(), "current_date.json"), nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(context.Background(), domain.StreamSpeed, ts))

	srv, _ := newServer(t, api.Deps{Watermarks: store})
	rec := get(t, srv, "/api/v1/watermarks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"watermarks":[{"stream":"speed_cam","watermark":"2024-03-01T12:00:00"}]}`, rec.Body.String())
}

func TestCORSAndRequestID(t *testing.T) {
	srv, _ := newServer(t, api.Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/speeds/cluster", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestNewServer_RequiresClusters(t *testing.T) {
	_, err := api.NewServer(api.Config{}, api.Deps{})
	require.Error(t, err)
}
