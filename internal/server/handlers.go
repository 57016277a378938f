package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/audit"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/cases"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/intent"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/logging"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/pagination"
	"github.com/sushanthmavenir/intent-orchestrator-platform/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CreateCaseRequest is the intake payload for a new case.
type CreateCaseRequest struct {
	SubjectPhone string `json:"subjectPhone"`
	Text         string `json:"text"`
}

// CancelCaseRequest carries the operator's reason for cancelling.
type CancelCaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) createCaseHandler(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be valid JSON",
		})
		return
	}

	phone := validation.NormalizePhone(req.SubjectPhone)
	text := validation.SanitizeText(req.Text, validation.MaxTextLength)

	// Reporters often put the number in the message instead of the
	// subjectPhone field; fall back to an extracted one.
	if !validation.IsValidPhone(phone) {
		if found := intent.ExtractEntities(text)["phone"]; found != "" {
			if p := validation.NormalizePhone(found); validation.IsValidPhone(p) {
				phone = p
			}
		}
	}

	if errs := validation.Validate(
		validation.Required("subjectPhone", phone),
		validation.ValidPhone("subjectPhone", phone),
		validation.Required("text", text),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	cs, err := s.engine.Submit(c.Request.Context(), phone, text)
	if err != nil {
		logging.L(c.Request.Context()).Error("case submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "submission_failed",
			"message": "Could not record the case",
		})
		return
	}

	// Classification and dispatch continue in the background.
	c.JSON(http.StatusAccepted, cs)
}

func (s *Server) getCaseHandler(c *gin.Context) {
	cs, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.caseError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) listCasesHandler(c *gin.Context) {
	state := cases.State(c.Query("state"))
	if state != "" && !knownState(state) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Unknown state filter: " + string(state),
		})
		return
	}

	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	// Fetch one beyond the page size to learn whether more pages exist.
	list, err := s.store.List(c.Request.Context(), state, limit+1,
		cases.WithCursor(c.Query("cursor")))
	if err != nil {
		logging.L(c.Request.Context()).Error("case list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Could not list cases",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(list, limit,
		func(cs *cases.Case) (time.Time, string) { return cs.CreatedAt, cs.ID })

	c.JSON(http.StatusOK, gin.H{
		"cases":      page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

func (s *Server) cancelCaseHandler(c *gin.Context) {
	var req CancelCaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must be valid JSON",
			})
			return
		}
	}

	cs, err := s.engine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.caseError(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) listEventsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Get(c.Request.Context(), id); err != nil {
		s.caseError(c, err)
		return
	}

	var fromSeq int64
	if v := c.Query("fromSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "fromSeq must be a non-negative integer",
			})
			return
		}
		fromSeq = n
	}

	kind := audit.Kind(c.Query("kind"))
	if kind != "" && !knownKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Unknown event kind: " + string(kind),
		})
		return
	}

	events, err := s.auditLog.List(c.Request.Context(), id, fromSeq)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit list failed", "case_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Could not list case events",
		})
		return
	}

	if kind != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Kind == kind {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"caseId": id,
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) streamCaseHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Get(c.Request.Context(), id); err != nil {
		s.caseError(c, err)
		return
	}
	s.hub.HandleStream(c.Writer, c.Request, id)
}

// caseError maps domain errors onto HTTP status codes.
func (s *Server) caseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cases.ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Case not found",
		})
	case errors.Is(err, cases.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "The case state does not allow this operation",
		})
	case errors.Is(err, cases.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "The case was modified concurrently, retry the operation",
		})
	default:
		logging.L(c.Request.Context()).Error("case operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

func knownKind(k audit.Kind) bool {
	switch k {
	case audit.KindStateTransition, audit.KindSignalReceived,
		audit.KindSignalFailed, audit.KindAggregated:
		return true
	}
	return false
}

func knownState(s cases.State) bool {
	switch s {
	case cases.StateReceived, cases.StateClassified, cases.StateDispatched,
		cases.StateAggregating, cases.StateAggregated,
		cases.StateResolved, cases.StateEscalated, cases.StateCancelled:
		return true
	}
	return false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
