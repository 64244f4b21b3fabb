package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ShayCichocki/swarm/internal/queue"
	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/internal/version"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// Error codes returned in API and push channel error bodies.
const (
	CodeInvalidCommand = "invalid_command"
	CodeInvalidRequest = "invalid_request"
	CodeQuotaExceeded  = "quota_exceeded"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// ownerHeader carries the caller identity set by the fronting gateway.
const ownerHeader = "X-Owner"

// ErrorBody is the structured error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

type cancelResponse struct {
	Cancelled bool        `json:"cancelled"`
	Run       *models.Run `json:"run"`
}

type healthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Queue   queue.Health `json:"queue"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// classify maps queue errors to HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, queue.ErrQuotaExceeded):
		return http.StatusTooManyRequests, CodeQuotaExceeded
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Get(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Queue:   s.queue.Health(),
	})
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req models.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if owner := c.GetHeader(ownerHeader); owner != "" {
		req.Owner = owner
	}

	run, err := s.queue.Submit(c.Request.Context(), req)
	if err != nil {
		status, code := classify(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("submit failed", "error", err)
		}
		abortWithError(c, status, code, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleListRuns(c *gin.Context) {
	filter := state.Filter{
		Status:    models.RunStatus(c.Query("status")),
		Owner:     c.Query("owner"),
		SessionID: c.Query("sessionId"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, "unknown status "+strconv.Quote(string(filter.Status)))
		return
	}
	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	runs, err := s.queue.List(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		abortWithError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := classify(err)
		abortWithError(c, status, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleCancelRun is idempotent: cancelling a finished run reports
// cancelled=false with the run's current state.
func (s *Server) handleCancelRun(c *gin.Context) {
	id := c.Param("id")
	cancelled := s.queue.CancelJob(id)

	run, err := s.queue.Get(c.Request.Context(), id)
	if err != nil {
		status, code := classify(err)
		abortWithError(c, status, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, cancelResponse{Cancelled: cancelled, Run: run})
}
