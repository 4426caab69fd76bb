package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/alem-hub/growth-hub/internal/application/command"
	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/domain/growth"
	"github.com/alem-hub/growth-hub/internal/domain/shared"
	"github.com/alem-hub/growth-hub/pkg/logger"
	"github.com/alem-hub/growth-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c echo.Context) error {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(c.Request().Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		return respond(c, code, status, nil)
	}
	return respond(c, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	}, nil)
}

func (s *Server) handleLive(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROWTH
// ══════════════════════════════════════════════════════════════════════════════

// handleAnalyzeGrowth runs a pure analysis of the posted batch. A batch whose
// validation fails still answers 200 with the failed validation report.
func (s *Server) handleAnalyzeGrowth(c echo.Context) error {
	var req analyzeGrowthRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := s.deps.AnalyzeGrowth.Handle(c.Request().Context(), query.AnalyzeGrowthQuery{
		Records:      req.Records,
		Assignments:  req.Assignments,
		GradingScale: req.GradingScale,
	})
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, query.AnalyzeGrowthResult{
		Report:     roundReport(res.Report),
		Validation: res.Validation,
	}, nil)
}

func (s *Server) handleRunGrowth(c echo.Context) error {
	var req runGrowthRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	tr, err := s.parseRange(req.From, req.To)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	res, err := s.deps.RunGrowth.Handle(ctx, command.RunGrowthAnalysisCommand{
		Grade:         req.Grade,
		ClassName:     req.ClassName,
		TimeRange:     tr,
		CorrelationID: requestID(c),
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info("growth run finished via API",
		logger.Operation("run_growth"),
		logger.RunID(res.RunID),
		logger.RecordCount(res.ResultCount),
	)

	res.Report = roundReport(res.Report)
	return respond(c, http.StatusCreated, res, nil)
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.deps.GetRun.Handle(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, run, nil)
}

// handleListResults pages stored results: ?report_type=&key=&page=&page_size=
func (s *Server) handleListResults(c echo.Context) error {
	page, err := queryInt(c, "page")
	if err != nil {
		return err
	}
	size, err := queryInt(c, "page_size")
	if err != nil {
		return err
	}

	q := query.ListResultsQuery{
		Dimension:  shared.Dimension(c.Param("dimension")),
		ReportType: shared.ReportType(c.QueryParam("report_type")),
		Key:        c.QueryParam("key"),
		Page:       page,
		PageSize:   size,
	}
	res, err := s.deps.ListResults.Handle(c.Request().Context(), q)
	if err != nil {
		return err
	}

	return respond(c, http.StatusOK, res.Results, &ResponseMeta{
		Page:     res.Page,
		PageSize: shared.NewPagination(page, size).PageSize,
		HasMore:  res.HasMore,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// INPUTS
// ══════════════════════════════════════════════════════════════════════════════

// handleIngest stores a batch of scores, assignments and warning events.
// A batch with no valid entry answers 422 with its validation report.
func (s *Server) handleIngest(c echo.Context) error {
	var req ingestRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := s.deps.Ingest.Handle(c.Request().Context(), command.IngestInputsCommand{
		Records:       req.Records,
		Assignments:   req.Assignments,
		Events:        req.Events,
		CorrelationID: requestID(c),
	})
	if err != nil {
		if res != nil && shared.IsValidation(err) {
			return respond(c, http.StatusUnprocessableEntity, res, nil)
		}
		return err
	}
	return respond(c, http.StatusCreated, res, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// RISK
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleAnalyzeRisk(c echo.Context) error {
	var req analyzeRiskRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	scope, err := shared.ParseScope(req.Scope)
	if err != nil {
		return err
	}
	key, err := shared.NewAnalysisKey(scope, req.TargetID, shared.TimeRange{})
	if err != nil {
		return err
	}

	q := query.AnalyzeRiskQuery{
		Key:        key,
		Events:     req.Events,
		ExamScores: req.ExamScores,
		PassMark:   req.PassMark,
	}
	if req.AsOf != nil {
		q.AsOf = *req.AsOf
	}

	res, err := s.deps.AnalyzeRisk.Handle(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, query.AnalyzeRiskResult{
		Analysis:   roundRisk(res.Analysis),
		Validation: res.Validation,
	}, nil)
}

// handleGetRisk serves /risk/:scope[/:target]?from=&to=&as_of=&refresh=
func (s *Server) handleGetRisk(c echo.Context) error {
	scope, err := shared.ParseScope(c.Param("scope"))
	if err != nil {
		return err
	}
	tr, err := s.parseRange(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return err
	}
	key, err := shared.NewAnalysisKey(scope, c.Param("target"), tr)
	if err != nil {
		return err
	}

	q := query.GetRiskAnalysisQuery{Key: key}
	if raw := c.QueryParam("as_of"); raw != "" {
		asOf, err := timeutil.ParseBound(raw, true, s.config.Timezone)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		q.AsOf = asOf
	}
	if raw := c.QueryParam("refresh"); raw != "" {
		q.Refresh, _ = strconv.ParseBool(raw)
	}

	res, err := s.deps.GetRisk.Handle(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, roundRisk(res.Analysis), &ResponseMeta{Cached: res.Cached})
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// handleValidateGradingScale checks a grading scale and, optionally,
// knowledge-point thresholds without running any analysis.
func (s *Server) handleValidateGradingScale(c echo.Context) error {
	var req gradingScaleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	report := shared.NewValidationReport()
	resp := gradingScaleResponse{Validation: report}

	if scale, err := growth.NewGradingScale(req.Levels); err != nil {
		report.Fail(err)
	} else {
		resp.Levels = scale.Levels()
	}
	if len(req.KnowledgeThresholds) > 0 {
		if ks, err := growth.NewKnowledgeScale(req.KnowledgeThresholds); err != nil {
			report.Fail(err)
		} else {
			resp.KnowledgeThresholds = ks.Thresholds()
		}
	}

	resp.Valid = !report.Blocking()
	return respond(c, http.StatusOK, resp, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func (s *Server) parseRange(from, to string) (shared.TimeRange, error) {
	f, t, err := timeutil.ParseRange(from, to, s.config.Timezone)
	if err != nil {
		return shared.TimeRange{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return shared.NewTimeRange(f.UTC(), t.UTC())
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return v, nil
}
