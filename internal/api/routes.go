// Package api serves process health and the latest run of each ingest task.
package api

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/cankoe/obs-schedule-ingest/internal/models"
	"github.com/cankoe/obs-schedule-ingest/internal/status"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeStoreError     = "store_error"
)

const defaultHistoryLimit = 20

type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ApiError) Error() string {
	return e.Message
}

// HistoryReader serves past runs of a task, newest first.
type HistoryReader interface {
	History(ctx context.Context, task string, limit int64) ([]models.RunRecord, error)
}

type Options struct {
	// APIKey guards /api when set.
	APIKey string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// History enables /api/tasks/:name/history when set.
	History HistoryReader
}

type TaskStatus struct {
	Name    string            `json:"name"`
	LastRun *models.RunRecord `json:"last_run"`
}

// NewRouter builds the gin engine. tasks lists the registered task names.
func NewRouter(reader status.Reader, tasks func() []string, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	group := r.Group("/api")
	if opts.APIKey != "" {
		group.Use(APIKeyMiddleware(opts.APIKey))
	}

	group.GET("/tasks", func(c *gin.Context) {
		out := make([]TaskStatus, 0)
		for _, name := range tasks() {
			st, err := taskStatus(c.Request.Context(), reader, name)
			if err != nil {
				respondError(c, "GET /api/tasks", err)
				return
			}
			out = append(out, st)
		}
		c.JSON(http.StatusOK, out)
	})

	group.GET("/tasks/:name", func(c *gin.Context) {
		name := c.Param("name")
		if !slices.Contains(tasks(), name) {
			c.JSON(http.StatusNotFound, gin.H{"error": &ApiError{Code: ErrCodeNotFound, Message: "Task not found"}})
			return
		}
		st, err := taskStatus(c.Request.Context(), reader, name)
		if err != nil {
			respondError(c, "GET /api/tasks/:name", err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	if opts.History != nil {
		group.GET("/tasks/:name/history", func(c *gin.Context) {
			name := c.Param("name")
			if !slices.Contains(tasks(), name) {
				c.JSON(http.StatusNotFound, gin.H{"error": &ApiError{Code: ErrCodeNotFound, Message: "Task not found"}})
				return
			}
			limit := int64(defaultHistoryLimit)
			if raw := c.Query("limit"); raw != "" {
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || n <= 0 || n > 500 {
					c.JSON(http.StatusBadRequest, gin.H{"error": &ApiError{
						Code:    ErrCodeInvalidRequest,
						Message: "limit must be between 1 and 500",
					}})
					return
				}
				limit = n
			}
			runs, err := opts.History.History(c.Request.Context(), name, limit)
			if err != nil {
				respondError(c, "GET /api/tasks/:name/history", err)
				return
			}
			if runs == nil {
				runs = []models.RunRecord{}
			}
			c.JSON(http.StatusOK, runs)
		})
	}

	return r
}

func taskStatus(ctx context.Context, reader status.Reader, name string) (TaskStatus, error) {
	rec, ok, err := reader.Latest(ctx, name)
	if err != nil {
		return TaskStatus{}, err
	}
	st := TaskStatus{Name: name}
	if ok {
		st.LastRun = &rec
	}
	return st, nil
}

func respondError(c *gin.Context, route string, err error) {
	log.Error().Err(err).Str("route", route).Msg("Failed to read run records")
	c.JSON(http.StatusInternalServerError, gin.H{"error": &ApiError{
		Code:    ErrCodeStoreError,
		Message: "Failed to read run records",
	}})
}

