package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	cron "github.com/driplabs/drip-api/internal/schedule"
	scheduleService "github.com/driplabs/drip-api/internal/service/schedule"
	"github.com/driplabs/drip-api/pkg/httputil"
)

type Handler struct {
	service scheduleService.Service
}

func NewHandler(service scheduleService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	schedules := r.Group("/schedules")
	{
		schedules.POST("", h.Create)
		schedules.GET("", h.List)
		schedules.GET("/:id", h.Get)
		schedules.PUT("/:id", h.Update)
		schedules.DELETE("/:id", h.Delete)

		schedules.GET("/:id/occurrences", h.Occurrences)
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, httputil.Response{
		Success: false,
		Error:   &httputil.Error{Code: http.StatusBadRequest, Message: message},
	})
}

type scheduleRequest struct {
	Minute      string `json:"minute" binding:"required"`
	Hour        string `json:"hour" binding:"required"`
	DayOfWeek   string `json:"day_of_week" binding:"required"`
	DayOfMonth  string `json:"day_of_month" binding:"required"`
	MonthOfYear string `json:"month_of_year" binding:"required"`
}

type scheduleResponse struct {
	*model.Schedule
	CronDefinition string `json:"cron_definition"`
}

func respond(c *gin.Context, status int, s *model.Schedule) {
	resp := scheduleResponse{Schedule: s, CronDefinition: cron.CronString(s)}
	c.JSON(status, httputil.Response{Success: true, Data: resp})
}

func (h *Handler) Create(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	s := &model.Schedule{
		Minute:      req.Minute,
		Hour:        req.Hour,
		DayOfWeek:   req.DayOfWeek,
		DayOfMonth:  req.DayOfMonth,
		MonthOfYear: req.MonthOfYear,
	}
	if err := h.service.Create(c.Request.Context(), s); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, s)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid schedule ID")
		return
	}

	s, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *Handler) List(c *gin.Context) {
	schedules, err := h.service.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, schedules)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid schedule ID")
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	existing, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	existing.Minute = req.Minute
	existing.Hour = req.Hour
	existing.DayOfWeek = req.DayOfWeek
	existing.DayOfMonth = req.DayOfMonth
	existing.MonthOfYear = req.MonthOfYear

	if err := h.service.Update(c.Request.Context(), existing); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	respond(c, http.StatusOK, existing)
}

// Occurrences previews the run times a schedule produces over
// (from, until], both bounds RFC 3339.
func (h *Handler) Occurrences(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid schedule ID")
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		badRequest(c, "invalid or missing from timestamp")
		return
	}
	until, err := time.Parse(time.RFC3339, c.Query("until"))
	if err != nil {
		badRequest(c, "invalid or missing until timestamp")
		return
	}
	if !until.After(from) {
		badRequest(c, "until must be after from")
		return
	}

	s, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	times, err := cron.RunTimesBetween(s, from, until)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{
		"cron_definition": cron.CronString(s),
		"occurrences":     times,
		"count":           len(times),
	})
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid schedule ID")
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
