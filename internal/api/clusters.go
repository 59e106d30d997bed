package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

// dateLayout is the format of the start and end query parameters.
const dateLayout = "2006-01-02"

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON Feature with a Point geometry.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Point          `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Point is a GeoJSON Point. Coordinates are [longitude, latitude].
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// cameraClusters serves one Point per camera with its summed violations,
// optionally restricted to violation dates between start and end inclusive.
func (s *Server) cameraClusters(kind domain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseRange(c.Query("start"), c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_DATE"})
			return
		}

		clusters, err := s.clusters.CameraClusters(c.Request.Context(), kind, filter)
		if err != nil {
			s.log.Error("Failed to load camera clusters", logger.String("kind", string(kind)), logger.Error(err))
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load clusters", Code: "QUERY_FAILED"})
			return
		}

		c.JSON(http.StatusOK, toFeatureCollection(kind, clusters))
	}
}

func toFeatureCollection(kind domain.Kind, clusters []database.CameraCluster) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(clusters))}
	for _, cl := range clusters {
		props := map[string]any{
			"cameraId":   cl.CameraID,
			"address":    cl.Address,
			"violations": cl.Violations,
		}
		if kind == domain.KindRedlight {
			props["intersection"] = cl.Intersection
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   Point{Type: "Point", Coordinates: [2]float64{cl.Longitude, cl.Latitude}},
			Properties: props,
		})
	}
	return fc
}

// parseRange turns the inclusive [start, end] day range into a half-open
// timestamp filter.
func parseRange(start, end string) (database.ClusterFilter, error) {
	var filter database.ClusterFilter
	if start != "" {
		from, err := time.Parse(dateLayout, start)
		if err != nil {
			return filter, errInvalidDate("start", start)
		}
		filter.From = &from
	}
	if end != "" {
		to, err := time.Parse(dateLayout, end)
		if err != nil {
			return filter, errInvalidDate("end", end)
		}
		to = to.AddDate(0, 0, 1)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, &dateError{param: "end", value: end, reason: "must not be before start"}
	}
	return filter, nil
}

type dateError struct {
	param  string
	value  string
	reason string
}

func (e *dateError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.param, e.value, e.reason)
}

func errInvalidDate(param, value string) error {
	return &dateError{param: param, value: value, reason: "expected YYYY-MM-DD"}
}
