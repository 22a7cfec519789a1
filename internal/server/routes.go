package server

import (
	"bytes"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxeledit/internal/edit"
	"voxeledit/internal/journal"
	"voxeledit/internal/world"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	cfg := s.Config()
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", gin.WrapH(s.sessions))
	router.GET("/editors", s.handleEditors)
	router.GET("/journal/recent", s.handleJournalRecent)
	if cfg.Server.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
	if cfg.Server.PreviewEnabled {
		router.GET("/preview", s.handlePreview)
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"server":   s.Config().Server.ID,
		"sessions": s.sessions.Sessions(),
		"editors":  len(s.scheduler.Editors()),
		"offline":  s.offline.Len(),
	})
}

func (s *Server) handleEditors(c *gin.Context) {
	editors := s.scheduler.Editors()
	out := make([]edit.Status, 0, len(editors))
	for _, e := range editors {
		out = append(out, e.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	c.JSON(http.StatusOK, gin.H{
		"budget":   s.scheduler.Budget(),
		"interval": s.scheduler.Interval().String(),
		"editors":  out,
	})
}

func (s *Server) handleJournalRecent(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJournalLimit)
	}
	records, err := s.journal.Recent(c.Request.Context(), c.Query("owner"), limit)
	if errors.Is(err, journal.ErrNoIndex) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Warn("journal query", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal query failed"})
		return
	}
	if records == nil {
		records = []journal.Record{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handlePreview(c *gin.Context) {
	x, errX := strconv.Atoi(c.Query("chunkX"))
	z, errZ := strconv.Atoi(c.Query("chunkZ"))
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk coordinates must be integers"})
		return
	}
	var buf bytes.Buffer
	err := s.world.RenderPreview(c.Request.Context(), world.ChunkCoord{X: x, Z: z}, &buf)
	if errors.Is(err, world.ErrOutOfBounds) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Warn("render preview", "chunkX", x, "chunkZ", z, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
