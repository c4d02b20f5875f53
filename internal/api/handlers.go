package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"videoscope/internal/models"
	"videoscope/internal/progress"
	"videoscope/internal/redis"
	"videoscope/internal/service/analysis"
	"videoscope/internal/upload"
	"videoscope/internal/worker"
)

const maxChunkBytes = 50 << 20 // 50 MB per multipart chunk

// JobQueue is the slice of the worker manager the HTTP layer needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a bare function, e.g. (*sql.DB).PingContext.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler wires HTTP routes to the upload manager, progress store and
// analysis store.
type Handler struct {
	uploads  *upload.Manager
	progress progress.Store
	jobs     JobQueue
	analyses *analysis.Service

	db    Pinger
	cache *redis.Client

	// pingInterval drives WebSocket heartbeats; tests shrink it.
	pingInterval time.Duration
}

func NewHandler(uploads *upload.Manager, store progress.Store, jobs JobQueue, analyses *analysis.Service, db Pinger, cache *redis.Client, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &Handler{
		uploads:      uploads,
		progress:     store,
		jobs:         jobs,
		analyses:     analyses,
		db:           db,
		cache:        cache,
		pingInterval: pingInterval,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/upload/chunk", h.uploadChunk)
	api.POST("/upload/complete/:session_id", h.completeUpload)
	api.GET("/jobs/:session_id", h.jobStatus)
	api.GET("/analyses", h.listAnalyses)
	api.GET("/analyses/:id", h.getAnalysis)
	api.DELETE("/analyses/:id", h.deleteAnalysis)
	api.POST("/debug/publish/:session_id/:pct", h.debugPublish)
	router.GET("/ws/:session_id", h.progressSocket)
	router.GET("/health", h.health)
}

func (h *Handler) uploadChunk(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxChunkBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	chunkIndex, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil || chunkIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chunk_index"})
		return
	}
	totalChunks, err := strconv.Atoi(c.PostForm("total_chunks"))
	if err != nil || totalChunks <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid total_chunks"})
		return
	}
	filename := filepath.Base(c.PostForm("filename"))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required"})
		return
	}
	file, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk is required"})
		return
	}
	if file.Size > maxChunkBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open chunk failed"})
		return
	}
	defer f.Close()

	receipt, err := h.uploads.PutChunk(c.Request.Context(), c.PostForm("session_id"), filename, chunkIndex, totalChunks, f)
	if err != nil {
		if errors.Is(err, upload.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":      receipt.SessionID,
		"chunk_index":     receipt.ChunkIndex,
		"received_chunks": receipt.ReceivedChunks,
		"total_chunks":    receipt.TotalChunks,
		"progress":        receipt.Progress,
		"complete":        receipt.Complete,
	})
}

func (h *Handler) completeUpload(c *gin.Context) {
	sessionID := c.Param("session_id")
	path, err := h.uploads.CompleteSession(c.Request.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "upload session not found"})
		case errors.Is(err, upload.ErrIncompleteUpload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	if err := h.progress.SetFilePath(c.Request.Context(), sessionID, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file path failed"})
		return
	}
	if err := h.jobs.Enqueue(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, worker.ErrDispatcherBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": sessionID})
}

func (h *Handler) jobStatus(c *gin.Context) {
	job, err := h.progress.GetJob(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobSnapshot(job))
}

func jobSnapshot(job *models.Job) gin.H {
	snapshot := gin.H{
		"status": job.Status,
		"pct":    job.Percent,
		"msg":    job.Message,
	}
	if job.Result != "" {
		snapshot["result"] = job.Result
	}
	return snapshot
}

func (h *Handler) listAnalyses(c *gin.Context) {
	list, err := h.analyses.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = make([]*models.Analysis, 0)
	}
	c.JSON(http.StatusOK, gin.H{"analyses": list})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	record, err := h.analyses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) deleteAnalysis(c *gin.Context) {
	if err := h.analyses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// debugPublish injects a synthetic progress event so frontend progress
// handling can be exercised without running a real job.
func (h *Handler) debugPublish(c *gin.Context) {
	pct, err := strconv.Atoi(c.Param("pct"))
	if err != nil || pct < 0 || pct > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pct"})
		return
	}
	sessionID := c.Param("session_id")
	fields := map[string]string{"status": string(models.StatusDebug)}
	if err := h.progress.Publish(c.Request.Context(), sessionID, pct, "Debug event", fields); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": true, "session_id": sessionID, "pct": pct})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "redis": "ok"}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, checks)
}
