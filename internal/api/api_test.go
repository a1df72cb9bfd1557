package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dss-loader/internal/domain"
	"github.com/andresuchdata/dss-loader/internal/pipeline"
)

type staticSource struct {
	summary pipeline.Summary
}

func (s staticSource) Snapshot() pipeline.Summary { return s.summary }

func newTestRouter(origins ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	src := staticSource{summary: pipeline.Summary{
		Total:  3,
		Loaded: 2,
		Failed: 1,
		Outcomes: []pipeline.Outcome{
			{RecordID: "a", Index: 0, Status: domain.OutcomeSucceeded, Label: "Loaded"},
			{RecordID: "b", Index: 1, Status: domain.OutcomeFailed, Label: "Failed", Kind: domain.KindObjectNotFound, Stage: pipeline.StageTransform},
			{RecordID: "c", Index: 2, Status: domain.OutcomeSucceeded, Label: "Loaded"},
		},
	}}
	return NewRouter(src, origins, zerolog.Nop())
}

func get(t *testing.T, r http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := get(t, newTestRouter(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetRun(t *testing.T) {
	w := get(t, newTestRouter(), "/api/v1/run")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		OK      bool             `json:"ok"`
		Summary pipeline.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.Equal(t, 3, body.Summary.Total)
	assert.Len(t, body.Summary.Outcomes, 3)
}

func TestGetRunFiltersByStatus(t *testing.T) {
	r := newTestRouter()

	var body struct {
		Summary pipeline.Summary `json:"summary"`
	}
	w := get(t, r, "/api/v1/run?status=loaded&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Summary.Outcomes, 1)
	assert.Equal(t, "a", body.Summary.Outcomes[0].RecordID)

	w = get(t, r, "/api/v1/run?status=failed,succeeded")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Summary.Outcomes, 3)

	w = get(t, r, "/api/v1/run?status=exploded")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `invalid status \"exploded\"`)

	w = get(t, r, "/api/v1/run?limit=-2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFailures(t *testing.T) {
	w := get(t, newTestRouter(), "/api/v1/run/failures")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count    int                `json:"count"`
		Failures []pipeline.Outcome `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "b", body.Failures[0].RecordID)
	assert.Equal(t, domain.KindObjectNotFound, body.Failures[0].Kind)
}

func TestCORS(t *testing.T) {
	w := get(t, newTestRouter("https://ops.example.org"), "/health", "Origin", "https://ops.example.org")
	assert.Equal(t, "https://ops.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(t, newTestRouter("*"), "/health", "Origin", "https://anywhere.example")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", " ", "*"})
	assert.True(t, all)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)
}
