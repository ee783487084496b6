package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recurring-planner/internal/repository/memory"
	"recurring-planner/internal/service"
)

type testServer struct {
	*httptest.Server
	store *memory.Store
}

func newTestServer(t *testing.T, gen Generator, opts ...Option) *testServer {
	t.Helper()
	return buildTestServer(t, func(st *memory.Store) Generator {
		if gen != nil {
			return gen
		}
		return service.NewGenerationService(st, service.GenerationConfig{HorizonDays: 5}, zaptest.NewLogger(t))
	}, opts...)
}

func buildTestServer(t *testing.T, newGen func(st *memory.Store) Generator, opts ...Option) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memory.New()
	gen := newGen(st)
	templates := service.NewTemplateService(st, nil, log)
	clock := func() time.Time { return time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC) }

	opts = append([]Option{WithClock(clock)}, opts...)
	srv := httptest.NewServer(NewServer(gen, templates, log, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (s *testServer) list(t *testing.T, path string) []map[string]any {
	t.Helper()
	resp, err := s.Client().Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const dailyTemplate = `{"userId":1,"title":"stretch","anchorDate":"2024-01-01","frequency":"daily"}`

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	status, created := srv.do(t, http.MethodPost, "/templates", dailyTemplate)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(float64)

	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["runId"])
	assert.Equal(t, float64(1), body["templatesProcessed"])
	assert.Equal(t, float64(8), body["totalInstancesCreated"])
	assert.Equal(t, "2024-01-03T12:00:00Z", body["timestamp"])

	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, id, first["template_id"])
	assert.Equal(t, float64(8), first["instances_created"])
	assert.NotContains(t, first, "error")

	status, body = srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["totalInstancesCreated"])

	status, body = srv.do(t, http.MethodPost, "/generate-recurring-tasks?date=2024-01-04", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["totalInstancesCreated"])

	instances := srv.list(t, "/templates/1/instances")
	require.Len(t, instances, 9)
	assert.Equal(t, "2024-01-01", instances[0]["instanceDate"])
	assert.Equal(t, "2024-01-09", instances[8]["instanceDate"])
}

func TestGenerateEndpoint_BadDate(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "invalid date")
}

func TestGenerateEndpoint_DateInConfiguredZone(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	srv := buildTestServer(t, func(st *memory.Store) Generator {
		return service.NewGenerationService(st, service.GenerationConfig{HorizonDays: 5, Location: est}, zaptest.NewLogger(t))
	}, WithLocation(est))
	status, _ := srv.do(t, http.MethodPost, "/templates", dailyTemplate)
	require.Equal(t, http.StatusCreated, status)

	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks?date=2024-01-03", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 8, body["totalInstancesCreated"])

	instances := srv.list(t, "/templates/1/instances")
	require.Len(t, instances, 8)
	assert.Equal(t, "2024-01-08", instances[7]["instanceDate"])
}

type deadlineGenerator struct {
	deadline time.Time
	ok       bool
}

func (g *deadlineGenerator) Generate(ctx context.Context, now time.Time) (service.Report, error) {
	g.deadline, g.ok = ctx.Deadline()
	return service.Report{Timestamp: now}, nil
}

func TestGenerateEndpoint_BatchTimeout(t *testing.T) {
	gen := &deadlineGenerator{}
	srv := newTestServer(t, gen, WithBatchTimeout(time.Minute))
	start := time.Now()
	status, _ := srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, gen.ok, "generation ran without a deadline")
	assert.WithinDuration(t, start.Add(time.Minute), gen.deadline, 5*time.Second)

	unbounded := &deadlineGenerator{}
	srv = newTestServer(t, unbounded)
	status, _ = srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	require.Equal(t, http.StatusOK, status)
	assert.False(t, unbounded.ok)
}

type failingGenerator struct{}

func (failingGenerator) Generate(_ context.Context, now time.Time) (service.Report, error) {
	return service.Report{Timestamp: now}, &service.BatchError{Op: "list active templates", Err: errors.New("database is closed")}
}

func TestGenerateEndpoint_BatchFailure(t *testing.T) {
	srv := newTestServer(t, failingGenerator{})
	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "database is closed")
	assert.Equal(t, "2024-01-03T12:00:00Z", body["timestamp"])
}

func TestGenerateEndpoint_ReportsTemplateFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	status, _ := srv.do(t, http.MethodPost, "/templates", dailyTemplate)
	require.Equal(t, http.StatusCreated, status)
	srv.store.FailCreates(1, errors.New("disk full"))

	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	require.Equal(t, http.StatusOK, status, "per-template failures do not fail the batch")
	first := body["results"].([]any)[0].(map[string]any)
	assert.Contains(t, first["error"], "disk full")
	assert.Equal(t, "storage", first["error_kind"])
}

func TestCreateTemplate_Validation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name      string
		body      string
		status    int
		violation string
	}{
		{
			name:      "interval zero",
			body:      `{"title":"x","anchorDate":"2024-01-01","frequency":"daily","interval":0}`,
			status:    http.StatusBadRequest,
			violation: "interval must be at least 1",
		},
		{
			name:      "end before anchor",
			body:      `{"title":"x","anchorDate":"2024-01-10","frequency":"weekly","endDate":"2024-01-01"}`,
			status:    http.StatusBadRequest,
			violation: "endDate 2024-01-01 is before anchorDate 2024-01-10",
		},
		{
			name:      "day of month out of range",
			body:      `{"title":"x","anchorDate":"2024-01-10","frequency":"monthly","dayOfMonth":32}`,
			status:    http.StatusBadRequest,
			violation: "dayOfMonth must be in [1,31]",
		},
		{
			name:   "bad anchor",
			body:   `{"title":"x","anchorDate":"01/10/2024","frequency":"daily"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   `{"title":"x","anchorDate":"2024-01-10","frequency":"daily","every":"day"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing title",
			body:   `{"anchorDate":"2024-01-10","frequency":"daily"}`,
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := srv.do(t, http.MethodPost, "/templates", tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
			if tt.violation == "" {
				return
			}
			violations, ok := body["violations"].([]any)
			require.True(t, ok, "violations missing in %v", body)
			require.NotEmpty(t, violations)
			assert.Contains(t, violations[0], tt.violation)
		})
	}
	assert.Empty(t, srv.list(t, "/templates"))
}

func TestTemplateLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	status, created := srv.do(t, http.MethodPost, "/templates",
		`{"userId":4,"title":"review","anchorDate":"2024-01-01","frequency":"weekly","interval":2,"daysOfWeek":[3,1]}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, []any{float64(1), float64(3)}, created["daysOfWeek"])
	assert.Equal(t, "every 2 weeks on Mon, Wed from 2024-01-01", created["summary"])
	assert.Contains(t, created["rrule"], "FREQ=WEEKLY")
	assert.Equal(t, true, created["active"])

	status, got := srv.do(t, http.MethodGet, "/templates/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "review", got["title"])

	status, _ = srv.do(t, http.MethodPost, "/templates/1/pause", "")
	assert.Equal(t, http.StatusNoContent, status)
	_, got = srv.do(t, http.MethodGet, "/templates/1", "")
	assert.Equal(t, false, got["active"])

	status, _ = srv.do(t, http.MethodPost, "/templates/1/resume", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, got = srv.do(t, http.MethodPatch, "/templates/1/pattern", `{"frequency":"monthly","dayOfMonth":31}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "monthly", got["frequency"])
	assert.Equal(t, float64(31), got["dayOfMonth"])

	status, got = srv.do(t, http.MethodPatch, "/templates/1/pattern", `{"frequency":"hourly"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, got["violations"].([]any)[0], "unknown frequency")

	assert.Len(t, srv.list(t, "/templates?userId=4"), 1)
	assert.Empty(t, srv.list(t, "/templates?userId=5"))
}

func TestTemplateNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/templates/77"},
		{http.MethodPost, "/templates/77/pause"},
		{http.MethodGet, "/templates/77/instances"},
	} {
		status, body := srv.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, status, tc.path)
		assert.Contains(t, body["error"], "record not found")
	}

	status, _ := srv.do(t, http.MethodGet, "/templates/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	status, body := srv.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, time.Time) (service.Report, error) {
	panic("unexpected")
}

func TestRecoverPanics(t *testing.T) {
	srv := newTestServer(t, panicGenerator{})
	status, body := srv.do(t, http.MethodPost, "/generate-recurring-tasks", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal server error", body["error"])
}
