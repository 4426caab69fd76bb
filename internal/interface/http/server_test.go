package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/growth-hub/internal/application/command"
	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/domain/analysis"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/risk"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/growth-hub/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/growth-hub/internal/interface/http/handlers"
	"github.com/alem-hub/growth-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var testAsOf = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticEvents []risk.WarningEvent

func (s staticEvents) FetchEvents(context.Context, shared.AnalysisKey, string, int) (*risk.EventPage, error) {
	return &risk.EventPage{Events: s}, nil
}

func (s staticEvents) SaveEvents(context.Context, []risk.WarningEvent) error { return nil }

type stubRunner struct {
	cmd command.RunGrowthAnalysisCommand
	err error
}

func (r *stubRunner) Handle(_ context.Context, cmd command.RunGrowthAnalysisCommand) (*command.RunGrowthAnalysisResult, error) {
	r.cmd = cmd
	if r.err != nil {
		return nil, r.err
	}
	return &command.RunGrowthAnalysisResult{
		RunID:       "run-1",
		Key:         shared.AnalysisKey{Scope: shared.ScopeClass, TargetID: cmd.ClassName},
		Report:      &growth.Report{},
		Validation:  shared.NewValidationReport(),
		ResultCount: 3,
	}, nil
}

type testEnv struct {
	server *Server
	store  *sqlite.Store
	runner *stubRunner
}

func newTestEnv(t *testing.T, cfg Config, health handlers.HealthChecker) *testEnv {
	t.Helper()

	scale, err := growth.NewGradingScale([]growth.LevelDef{
		{Name: "A", MinScore: 80},
		{Name: "B", MinScore: 60},
		{Name: "C", MinScore: 0},
	})
	require.NoError(t, err)
	analyzer, err := growth.NewAnalyzer(scale)
	require.NoError(t, err)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := make(staticEvents, 10)
	for i := range events {
		events[i] = risk.WarningEvent{
			ID:        fmt.Sprintf("e%02d", i),
			Severity:  risk.SeverityMedium,
			Category:  "attendance",
			CreatedAt: testAsOf.Add(-time.Duration(i+1) * time.Hour),
			Scope:     shared.ScopeStudent,
			ScopeRef:  "s1",
		}
	}

	v := validation.New()
	cache := memory.NewCache(128, time.Minute)
	runner := &stubRunner{}

	srv := NewServer(cfg, Dependencies{
		AnalyzeGrowth: query.NewAnalyzeGrowthHandler(analyzer, v),
		AnalyzeRisk:   query.NewAnalyzeRiskHandler(risk.NewAnalyzer(risk.DefaultPatternConfig()), v),
		ListResults:   query.NewListResultsHandler(store, cache, time.Minute),
		GetRun:        query.NewGetRunHandler(store),
		GetRisk: query.NewGetRiskAnalysisHandler(events, nil,
			risk.NewAnalyzer(risk.DefaultPatternConfig()), cache, time.Minute, growth.DefaultPassMark),
		RunGrowth:     runner,
		Ingest:        command.NewIngestInputsHandler(store, store, store, v, nil, logger.Nop()),
		Validator:     v,
		Logger:        logger.Nop(),
		HealthChecker: health,
	})
	return &testEnv{server: srv, store: store, runner: runner}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("sqlite", func(context.Context) error { return nil })
	env := newTestEnv(t, DefaultConfig(), checker)

	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(body.Data, &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, "test", status.Version)
}

func TestHealth_CriticalFailure(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	env := newTestEnv(t, DefaultConfig(), checker)

	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROWTH
// ══════════════════════════════════════════════════════════════════════════════

func TestAnalyzeGrowth(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/growth/analyze", `{
		"records": [
			{"student_id": "s1", "class_name": "7A", "grade": "7", "subject": "math", "entry_score": 60, "exit_score": 70},
			{"student_id": "s2", "class_name": "7A", "grade": "7", "subject": "math", "entry_score": 70, "exit_score": 80},
			{"student_id": "s3", "class_name": "7A", "grade": "7", "subject": "math", "entry_score": 80, "exit_score": "absent"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Success)

	var res query.AnalyzeGrowthResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, shared.StatusSucceeded, res.Validation.Status)
	require.NotNil(t, res.Report)
	require.Len(t, res.Report.Students, 2)
	assert.Equal(t, 1, res.Report.Excluded)
	assert.Equal(t, "s1", res.Report.Students[0].StudentID)
	assert.Equal(t, -1.225, res.Report.Students[0].EntryZ)
	assert.Equal(t, -1.0, res.Report.Students[0].ExitZ)
}

func TestAnalyzeGrowth_BadRequests(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/growth/analyze", `{"records": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Success)

	rec, body = env.do(t, http.MethodPost, "/api/v1/growth/analyze", `{"records": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "validation_failed", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "records")
}

func TestRunGrowth(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/growth/runs",
		`{"grade": "7", "class_name": "7A", "from": "2024-01-01", "to": "2024-06-30"}`,
		"X-Request-ID", "req-42")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, body.Success)

	assert.Equal(t, "7A", env.runner.cmd.ClassName)
	assert.Equal(t, "req-42", env.runner.cmd.CorrelationID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), env.runner.cmd.TimeRange.From)

	var res command.RunGrowthAnalysisResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.ResultCount)
}

func TestRunGrowth_InvalidRange(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/growth/runs", `{"from": "2024-06-30", "to": "2024-01-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	run := analysis.NewRun("run-7", shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "7"}, testAsOf)
	require.NoError(t, env.store.SaveRun(context.Background(), run))

	rec, body := env.do(t, http.MethodGet, "/api/v1/growth/runs/run-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got analysis.Run
	require.NoError(t, json.Unmarshal(body.Data, &got))
	assert.Equal(t, "run-7", got.ID)

	rec, body = env.do(t, http.MethodGet, "/api/v1/growth/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestListResults_Paging(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	key := shared.AnalysisKey{Scope: shared.ScopeGlobal, TargetID: "7"}
	results := make([]analysis.Result, 3)
	for i := range results {
		results[i] = analysis.Result{
			RunID:      "run-1",
			Key:        key,
			Dimension:  shared.DimensionClass,
			ReportType: shared.ReportGrowth,
			SubjectRef: fmt.Sprintf("7%c", 'A'+i),
			Payload:    json.RawMessage(`{}`),
			CreatedAt:  testAsOf,
		}
	}
	require.NoError(t, env.store.SaveResults(context.Background(), key, results))

	rec, body := env.do(t, http.MethodGet, "/api/v1/results/class?page_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page []analysis.Result
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Len(t, page, 2)
	assert.Equal(t, 1, body.Meta.Page)
	assert.Equal(t, 2, body.Meta.PageSize)
	assert.True(t, body.Meta.HasMore)

	_, body = env.do(t, http.MethodGet, "/api/v1/results/class?page=2&page_size=2", "")
	page = nil
	require.NoError(t, json.Unmarshal(body.Data, &page))
	require.Len(t, page, 1)
	assert.Equal(t, "7C", page[0].SubjectRef)
	assert.False(t, body.Meta.HasMore)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/results/room", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/results/class?page=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// RISK
// ══════════════════════════════════════════════════════════════════════════════

func TestAnalyzeRisk(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/risk/analyze", `{
		"scope": "exam",
		"target_id": "math",
		"exam_scores": [40, 45, 50, 90]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res query.AnalyzeRiskResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	require.Len(t, res.Analysis.Recommendations.Immediate, 1)
	assert.Equal(t, risk.RuleRemedialTeaching, res.Analysis.Recommendations.Immediate[0].RuleID)

	rec, body = env.do(t, http.MethodPost, "/api/v1/risk/analyze", `{"scope": "room"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Error.Fields, "scope")
}

func TestGetRisk_CachedOnSecondCall(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/risk/student/s1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, body.Meta.Cached)

	var a risk.RiskAnalysis
	require.NoError(t, json.Unmarshal(body.Data, &a))
	assert.Equal(t, 10, a.EventCount)
	assert.Equal(t, 30.0, a.RiskScore)

	_, body = env.do(t, http.MethodGet, "/api/v1/risk/student/s1", "")
	assert.True(t, body.Meta.Cached)

	_, body = env.do(t, http.MethodGet, "/api/v1/risk/student/s1?refresh=true", "")
	assert.False(t, body.Meta.Cached)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/risk/student", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

func TestValidateGradingScale(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/config/grading-scale/validate",
		`{"levels": [{"name": "pass", "min_score": 60}, {"name": "fail", "min_score": 0}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok gradingScaleResponse
	require.NoError(t, json.Unmarshal(body.Data, &ok))
	assert.True(t, ok.Valid)
	assert.Len(t, ok.Levels, 2)

	_, body = env.do(t, http.MethodPost, "/api/v1/config/grading-scale/validate",
		`{"levels": [{"name": "x", "min_score": 50}, {"name": "y", "min_score": 50}]}`)
	var bad gradingScaleResponse
	require.NoError(t, json.Unmarshal(body.Data, &bad))
	assert.False(t, bad.Valid)
	assert.NotEmpty(t, bad.Validation.Errors)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH
// ══════════════════════════════════════════════════════════════════════════════

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.APIKeyHashes = []string{string(hash)}
	env := newTestEnv(t, cfg, nil)

	body := `{"levels": [{"name": "pass", "min_score": 60}, {"name": "fail", "min_score": 0}]}`
	path := "/api/v1/config/grading-scale/validate"

	rec, env1 := env.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", env1.Error.Code)

	rec, _ = env.do(t, http.MethodPost, path, body, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, path, body, "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays public.
	rec, _ = env.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDisabledRoutes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableScaleValidation = true
	env := &testEnv{server: NewServer(cfg, Dependencies{Logger: logger.Nop()})}

	rec, body := env.do(t, http.MethodPost, "/api/v1/growth/analyze", `{"records": []}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Error.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/config/grading-scale/validate", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/inputs", `{
		"records": [
			{"student_id": "s1", "class_name": "7A", "grade": "7", "subject": "math", "entry_score": 50, "exit_score": "absent"},
			{"student_id": "s2", "class_name": "7A", "grade": "7", "subject": "math", "entry_score": 140}
		],
		"events": [
			{"id": "w1", "severity": "high", "category": "attendance", "created_at": "2024-04-01T08:00:00Z", "scope": "student", "scope_ref": "s1"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res command.IngestInputsResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, 1, res.Scores)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, shared.StatusPartial, res.Validation.Status)

	page, err := env.store.FetchScores(context.Background(), growth.ScoreFilter{Grade: "7"}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.True(t, page.Records[0].ExitScore.IsAbsent())

	rec, body = env.do(t, http.MethodPost, "/api/v1/inputs", `{"records": [{"class_name": "7A", "subject": "math"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, shared.StatusFailed, res.Validation.Status)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/inputs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
