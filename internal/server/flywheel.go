package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/taxpilot/internal/flywheel"
	"github.com/mohammad-safakhou/taxpilot/internal/telemetry"
	"github.com/mohammad-safakhou/taxpilot/models"
)

// FlywheelHandler exposes the profile, similarity, pattern, advice and
// behavior endpoints. All routes require an authenticated user.
type FlywheelHandler struct {
	Engine    *flywheel.Engine
	Telemetry *telemetry.Telemetry
}

func (h *FlywheelHandler) Register(g *echo.Group) {
	g.POST("/financial-dna", h.updateDNA)
	g.GET("/financial-dna", h.getDNA)
	g.DELETE("/financial-dna", h.deleteDNA)
	g.GET("/similar-users", h.similarUsers)
	g.GET("/success-patterns/:persona_hash", h.successPatterns)
	g.POST("/advice", h.advice)
	g.POST("/collective/contribute", h.contribute)
	g.POST("/behavior/log", h.logBehavior)
	g.GET("/behavior/summary", h.behaviorSummary)
}

func currentUserID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}

// flywheelError maps engine errors onto HTTP status codes. Generation
// failures are handled in the advice handler because their body carries
// the evidence counts.
func flywheelError(err error) error {
	var verr *flywheel.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	}
	if errors.Is(err, flywheel.ErrNoPersona) {
		return echo.NewHTTPError(http.StatusNotFound, "no financial profile; submit financial-dna first")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// UpdateDNA
//
//	@Summary		Update financial profile
//	@Description	Upserts the user's financial DNA, recomputing embedding and persona hash
//	@Tags			flywheel
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		UpdateDNARequest	true	"Profile payload"
//	@Success		200		{object}	models.FinancialDNA
//	@Failure		400		{object}	HTTPError
//	@Failure		500		{object}	HTTPError
//	@Router			/api/financial-dna [post]
func (h *FlywheelHandler) updateDNA(c echo.Context) error {
	var req UpdateDNARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dna, err := h.Engine.UpdateFinancialDNA(c.Request().Context(), flywheel.UpdateRequest{
		UserID:          currentUserID(c),
		NotesText:       req.NotesText,
		MonthlyIncome:   req.MonthlyIncome,
		MonthlyExpenses: req.MonthlyExpenses,
		SavingsRate:     req.SavingsRate,
		Assets:          req.Assets,
		TaxStatus:       req.TaxStatus,
		AgeGroup:        req.AgeGroup,
		IncomeLevel:     req.IncomeLevel,
		Occupation:      req.Occupation,
		Goals:           req.Goals,
	})
	if err != nil {
		return flywheelError(err)
	}
	return c.JSON(http.StatusOK, dna)
}

// GetDNA
//
//	@Summary	Get financial profile
//	@Tags		flywheel
//	@Produce	json
//	@Success	200	{object}	models.FinancialDNA
//	@Failure	404	{object}	HTTPError
//	@Router		/api/financial-dna [get]
func (h *FlywheelHandler) getDNA(c echo.Context) error {
	dna, found, err := h.Engine.GetFinancialDNA(c.Request().Context(), currentUserID(c))
	if err != nil {
		return flywheelError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "financial profile not found")
	}
	return c.JSON(http.StatusOK, dna)
}

// DeleteDNA
//
//	@Summary	Delete financial profile
//	@Tags		flywheel
//	@Success	204	{string}	string	"No Content"
//	@Failure	500	{object}	HTTPError
//	@Router		/api/financial-dna [delete]
func (h *FlywheelHandler) deleteDNA(c echo.Context) error {
	if err := h.Engine.DeleteFinancialDNA(c.Request().Context(), currentUserID(c)); err != nil {
		return flywheelError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SimilarUsers
//
//	@Summary	Find similar users
//	@Tags		flywheel
//	@Produce	json
//	@Param		threshold	query		number	false	"Minimum cosine similarity"
//	@Param		limit		query		int		false	"Maximum results"
//	@Success	200			{array}		models.SimilarUser
//	@Failure	500			{object}	HTTPError
//	@Router		/api/similar-users [get]
func (h *FlywheelHandler) similarUsers(c echo.Context) error {
	threshold, _ := strconv.ParseFloat(c.QueryParam("threshold"), 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	similar, err := h.Engine.FindSimilarUsers(c.Request().Context(), currentUserID(c), threshold, limit)
	if err != nil {
		return flywheelError(err)
	}
	if similar == nil {
		similar = []models.SimilarUser{}
	}
	return c.JSON(http.StatusOK, similar)
}

// SuccessPatterns
//
//	@Summary	Cohort success patterns
//	@Tags		flywheel
//	@Produce	json
//	@Param		persona_hash	path		string	true	"Persona cohort key"
//	@Param		top_k			query		int		false	"Maximum patterns"
//	@Success	200				{array}		models.SuccessPattern
//	@Failure	500				{object}	HTTPError
//	@Router		/api/success-patterns/{persona_hash} [get]
func (h *FlywheelHandler) successPatterns(c echo.Context) error {
	topK, _ := strconv.Atoi(c.QueryParam("top_k"))
	patterns, err := h.Engine.GetSuccessPatterns(c.Request().Context(), c.Param("persona_hash"), topK)
	if err != nil {
		return flywheelError(err)
	}
	if patterns == nil {
		patterns = []models.SuccessPattern{}
	}
	return c.JSON(http.StatusOK, patterns)
}

// Advice
//
//	@Summary		Generate tax advice
//	@Description	Answers a question grounded in the user's profile and cohort evidence
//	@Tags			flywheel
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AdviceRequest	true	"Question payload"
//	@Success		200		{object}	models.AdviceResult
//	@Failure		400		{object}	HTTPError
//	@Failure		502		{object}	AdviceErrorResponse
//	@Router			/api/advice [post]
func (h *FlywheelHandler) advice(c echo.Context) error {
	var req AdviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.Engine.GenerateAdvice(c.Request().Context(), currentUserID(c), req.Question)
	if err != nil {
		var gerr *flywheel.GenerationError
		if errors.As(err, &gerr) {
			if h.Telemetry != nil {
				h.Telemetry.RecordAdviceRequest(true)
			}
			return c.JSON(http.StatusBadGateway, AdviceErrorResponse{
				Error:                gerr.Error(),
				SimilarUsersCount:    gerr.SimilarUsersCount,
				SuccessPatternsCount: gerr.SuccessPatternsCount,
			})
		}
		return flywheelError(err)
	}
	if h.Telemetry != nil {
		h.Telemetry.RecordAdviceRequest(false)
	}
	return c.JSON(http.StatusOK, result)
}

// Contribute
//
//	@Summary		Contribute an outcome
//	@Description	Folds an observed action outcome into the user's persona cohort
//	@Tags			flywheel
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		ContributeRequest	true	"Outcome payload"
//	@Success		200		{object}	ContributeResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/collective/contribute [post]
func (h *FlywheelHandler) contribute(c echo.Context) error {
	var req ContributeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	personaHash, err := h.Engine.Contribute(c.Request().Context(), currentUserID(c), req.Action, req.Outcome, req.Success)
	if err != nil {
		return flywheelError(err)
	}
	if h.Telemetry != nil {
		h.Telemetry.RecordContribution()
	}
	return c.JSON(http.StatusOK, ContributeResponse{PersonaHash: personaHash, Contributed: true})
}

// LogBehavior
//
//	@Summary	Log a behavior event
//	@Tags		flywheel
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		LogBehaviorRequest	true	"Event payload"
//	@Success	200		{object}	LoggedResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/behavior/log [post]
func (h *FlywheelHandler) logBehavior(c echo.Context) error {
	var req LogBehaviorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Engine.LogBehaviorEvent(c.Request().Context(), currentUserID(c), req.EventType, req.Topic, req.DurationSeconds, req.ScrollDepth); err != nil {
		return flywheelError(err)
	}
	return c.JSON(http.StatusOK, LoggedResponse{Logged: true})
}

// BehaviorSummary
//
//	@Summary	Summarize recent behavior
//	@Tags		flywheel
//	@Produce	json
//	@Param		days	query		int	false	"Trailing window in days"
//	@Success	200		{object}	models.BehaviorSummary
//	@Failure	500		{object}	HTTPError
//	@Router		/api/behavior/summary [get]
func (h *FlywheelHandler) behaviorSummary(c echo.Context) error {
	days, _ := strconv.Atoi(c.QueryParam("days"))
	summary, err := h.Engine.BehaviorSummary(c.Request().Context(), currentUserID(c), days)
	if err != nil {
		return flywheelError(err)
	}
	return c.JSON(http.StatusOK, summary)
}
