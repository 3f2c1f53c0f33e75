package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/catalog"
	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
)

type Handler struct {
	Service    *Service
	Catalog    *catalog.Catalog
	Version    string
	mcpHandler http.Handler
}

func NewHandler(s *Service, cat *catalog.Catalog, version string) *Handler {
	h := &Handler{Service: s, Catalog: cat, Version: version}
	h.mcpHandler = h.newMCPHandler()
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Any("/mcp", gin.WrapH(h.mcpHandler))
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("", h.root)
		api.POST("/research", h.createResearch)
		api.GET("/research", h.listResearch)
		api.GET("/research/:id", h.getResearch)
		api.GET("/research/:id/stream", h.streamResearch)
		api.GET("/research/:id/logs", h.getLogs)

		api.GET("/models", h.listModels)
		api.GET("/search-providers", h.listSearchProviders)
	}
}

func detail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"detail": msg})
}

func notFound(c *gin.Context, id string) {
	detail(c, http.StatusNotFound, fmt.Sprintf("Research %s not found", id))
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.Version})
}

func (h *Handler) healthz(c *gin.Context) {
	if err := h.Service.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "fail", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createResearch(c *gin.Context) {
	var req CreateResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.Service.CreateResearch(c.Request.Context(), req)
	switch {
	case errors.Is(err, research.ErrInvalidQuery), errors.Is(err, clients.ErrUnsupportedModel):
		detail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

// listFilter reads the admin list query parameters. status accepts a stage
// name or a full status string.
func listFilter(c *gin.Context) (store.Filter, error) {
	f := store.Filter{
		Model:  c.Query("model"),
		Search: strings.TrimSpace(c.Query("q")),
	}
	if s := c.Query("status"); s != "" {
		stage, _, _ := strings.Cut(s, ": ")
		f.Stage = research.Stage(stage)
		if !f.Stage.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) listResearch(c *gin.Context) {
	f, err := listFilter(c)
	if err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.Service.ListResearch(c.Request.Context(), f)
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*research.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Handler) getResearch(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.Service.GetResearch(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		notFound(c, id)
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) getLogs(c *gin.Context) {
	id := c.Param("id")
	logs, err := h.Service.GetLogs(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		notFound(c, id)
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []store.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) streamResearch(c *gin.Context) {
	id := c.Param("id")
	next, err := h.Service.Stream(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		notFound(c, id)
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for event, err := range next {
		if err != nil {
			writeSSE(c, gin.H{"error": err.Error()})
			return
		}
		if !writeSSE(c, event) {
			return
		}
	}
}

// writeSSE sends one data frame and reports whether the client can still
// be written to.
func writeSSE(c *gin.Context, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return false
	}
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
	return true
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.Catalog.Models})
}

func (h *Handler) listSearchProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.Catalog.Providers})
}
