package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/pipeline"
)

// ReportSource exposes the live report of a run.
type ReportSource interface {
	Snapshot() pipeline.Summary
}

type RunHandler struct {
	source ReportSource
}

func NewRunHandler(source ReportSource) *RunHandler {
	return &RunHandler{source: source}
}

type outcomeFilter struct {
	statuses map[domain.OutcomeStatus]bool
	limit    int
}

// parseFilter reads ?status= (repeated or comma-separated, status or label)
// and ?limit=.
func parseFilter(c *gin.Context) (outcomeFilter, error) {
	filter := outcomeFilter{statuses: map[domain.OutcomeStatus]bool{}}

	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := domain.ParseOutcome(part)
			if !ok {
				return filter, &filterError{param: "status", value: part}
			}
			filter.statuses[status] = true
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, &filterError{param: "limit", value: raw}
		}
		filter.limit = limit
	}
	return filter, nil
}

type filterError struct {
	param string
	value string
}

func (e *filterError) Error() string {
	return "invalid " + e.param + " " + strconv.Quote(e.value)
}

func (f outcomeFilter) apply(outcomes []pipeline.Outcome) []pipeline.Outcome {
	out := make([]pipeline.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if len(f.statuses) > 0 && !f.statuses[o.Status] {
			continue
		}
		out = append(out, o)
		if f.limit > 0 && len(out) == f.limit {
			break
		}
	}
	return out
}

// GetRun returns the current summary with outcomes, optionally filtered.
func (h *RunHandler) GetRun(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary := h.source.Snapshot()
	summary.Outcomes = filter.apply(summary.Outcomes)
	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"ok":      summary.OK(),
	})
}

// GetFailures lists failed records only.
func (h *RunHandler) GetFailures(c *gin.Context) {
	failures := h.source.Snapshot().Failures()
	if failures == nil {
		failures = []pipeline.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(failures),
		"failures": failures,
	})
}
