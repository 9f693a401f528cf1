package glosa

import (
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicflow/tiss/internal/platform/auth"
	"github.com/clinicflow/tiss/internal/tiss"
	"github.com/clinicflow/tiss/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing, auditor
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleAuditor))
	readGroup.GET("/analyses", h.ListAnalyses)
	readGroup.GET("/analyses/:id", h.GetAnalysis)
	readGroup.GET("/operators", h.ListOperators)
	readGroup.GET("/operators/:name/rules", h.GetOperatorRules)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole(auth.RoleBilling))
	writeGroup.POST("/guides/validate", h.Validate)
	writeGroup.POST("/guides/validate-batch", h.ValidateBatch)
	writeGroup.POST("/guides/analyze", h.Analyze)
	writeGroup.POST("/guides/analyze-batch", h.AnalyzeBatch)
	writeGroup.POST("/guides/autofix", h.AutoFix)
}

type guideRequest struct {
	Guide     tiss.Guide `json:"guide"`
	GuideType string     `json:"guide_type,omitempty"`
	Operator  string     `json:"operator,omitempty"`
}

type batchRequest struct {
	Guides   []tiss.Guide `json:"guides"`
	Operator string       `json:"operator,omitempty"`
}

type validationResponse struct {
	tiss.ValidationResult
	Summary string `json:"summary"`
	Count   int    `json:"count,omitempty"`
}

type analysisResponse struct {
	*AnalysisRecord
	Persisted bool `json:"persisted"`
}

// BatchSummary aggregates the verdicts of one batch analysis.
type BatchSummary struct {
	Count              int            `json:"count"`
	Valid              int            `json:"valid"`
	ByRiskLevel        map[string]int `json:"by_risk_level"`
	AutoFixable        int            `json:"auto_fixable"`
	TotalEstimatedLoss float64        `json:"total_estimated_loss"`
}

func summarize(records []*AnalysisRecord) BatchSummary {
	s := BatchSummary{Count: len(records), ByRiskLevel: map[string]int{}}
	var loss float64
	for _, r := range records {
		if r.Valid {
			s.Valid++
		}
		if r.CanAutoFix {
			s.AutoFixable++
		}
		s.ByRiskLevel[r.RiskLevel]++
		loss += r.EstimatedLoss
	}
	s.TotalEstimatedLoss = math.Round(loss*100) / 100
	return s
}

func (h *Handler) Validate(c echo.Context) error {
	var req guideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Guide == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "guide is required")
	}
	res := h.svc.Validate(c.Request().Context(), req.Guide, req.GuideType)
	return c.JSON(http.StatusOK, validationResponse{ValidationResult: res, Summary: tiss.Summary(res)})
}

func (h *Handler) ValidateBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.ValidateBatch(c.Request().Context(), req.Guides)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, validationResponse{ValidationResult: res, Summary: tiss.Summary(res), Count: len(req.Guides)})
}

func (h *Handler) Analyze(c echo.Context) error {
	var req guideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Guide == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "guide is required")
	}
	rec, err := h.svc.Analyze(c.Request().Context(), req.Guide, req.Operator)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if h.svc.Persistent() {
		status = http.StatusCreated
	}
	return c.JSON(status, analysisResponse{AnalysisRecord: rec, Persisted: h.svc.Persistent()})
}

func (h *Handler) AnalyzeBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, err := h.svc.AnalyzeBatch(c.Request().Context(), req.Guides, req.Operator)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if h.svc.Persistent() {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]interface{}{
		"results":   records,
		"summary":   summarize(records),
		"persisted": h.svc.Persistent(),
	})
}

func (h *Handler) AutoFix(c echo.Context) error {
	var req guideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Guide == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "guide is required")
	}
	return c.JSON(http.StatusOK, h.svc.AutoFix(c.Request().Context(), req.Guide))
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetAnalysis(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListAnalyses(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListAnalyses(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*AnalysisRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func filterFromQuery(c echo.Context) (AnalysisFilter, error) {
	f := AnalysisFilter{
		Operator:    c.QueryParam("operator"),
		RiskLevel:   c.QueryParam("risk_level"),
		GuideNumber: c.QueryParam("guide_number"),
	}
	if v := c.QueryParam("valid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid valid parameter")
		}
		f.Valid = &b
	}
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid since parameter, expected RFC 3339")
		}
		f.Since = &t
	}
	return f, nil
}

func (h *Handler) ListOperators(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"operators": h.svc.Operators()})
}

func (h *Handler) GetOperatorRules(c echo.Context) error {
	name := c.Param("name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	rules, err := h.svc.OperatorRules(name)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"operator": tiss.OperatorKey(name),
		"rules":    rules,
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownOperator):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPersistenceDisabled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrInvalidFilter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
