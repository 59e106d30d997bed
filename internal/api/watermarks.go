package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

type watermarkEntry struct {
	Stream    string `json:"stream"`
	Watermark string `json:"watermark"`
}

func (s *Server) listWatermarks(c *gin.Context) {
	all, err := s.watermarks.All(c.Request.Context())
	if err != nil {
		s.log.Error("Failed to read watermarks", logger.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read watermarks"})
		return
	}

	entries := make([]watermarkEntry, 0, len(all))
	for stream, ts := range all {
		entries = append(entries, watermarkEntry{Stream: stream, Watermark: domain.FormatTimestamp(ts)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Stream < entries[j].Stream })

	c.JSON(http.StatusOK, gin.H{"watermarks": entries})
}
