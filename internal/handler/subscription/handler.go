package subscription

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	subscriptionService "github.com/driplabs/drip-api/internal/service/subscription"
	"github.com/driplabs/drip-api/pkg/httputil"
)

type Handler struct {
	service subscriptionService.Service
}

func NewHandler(service subscriptionService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subs := r.Group("/subscriptions")
	{
		subs.POST("", h.Create)
		subs.GET("", h.ListForIdentity)
		subs.GET("/:id", h.Get)
		subs.DELETE("/:id", h.Cancel)

		subs.POST("/:id/send", h.TriggerSend)
		subs.POST("/:id/resend", h.RequestResend)
		subs.POST("/:id/complete", h.MarkComplete)
		subs.POST("/:id/fastforward", h.FastForward)
		subs.POST("/:id/reset", h.Reset)
		subs.GET("/:id/behind", h.MessagesBehind)
	}
}

type createRequest struct {
	Identity           string     `json:"identity" binding:"required"`
	MessageSetID       uuid.UUID  `json:"messageset_id" binding:"required"`
	ScheduleID         *uuid.UUID `json:"schedule_id"`
	Lang               string     `json:"lang"`
	NextSequenceNumber int        `json:"next_sequence_number"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: err.Error()},
		})
		return
	}

	sub := &model.Subscription{
		Identity:           req.Identity,
		MessageSetID:       req.MessageSetID,
		Lang:               req.Lang,
		NextSequenceNumber: req.NextSequenceNumber,
	}
	if req.ScheduleID != nil {
		sub.ScheduleID = *req.ScheduleID
	}

	if err := h.service.Create(c.Request.Context(), sub); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.Response{Success: true, Data: sub})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	sub, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

func (h *Handler) ListForIdentity(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "identity query parameter is required"},
		})
		return
	}

	subs, err := h.service.ListForIdentity(c.Request.Context(), identity)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, subs)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

// TriggerSend is the callback the external scheduler fires when a
// subscription's cron matches. It only enqueues; the worker delivers.
func (h *Handler) TriggerSend(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	if err := h.service.TriggerSend(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true})
}

func (h *Handler) RequestResend(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	req, err := h.service.RequestResend(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true, Data: req})
}

func (h *Handler) MarkComplete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	if err := h.service.MarkComplete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

// Reset returns a parked (error) or stuck (in-process) subscription to
// ready so the next scheduled trigger can deliver.
func (h *Handler) Reset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	if err := h.service.Reset(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

type fastForwardRequest struct {
	At   *time.Time `json:"at"`
	Save bool       `json:"save"`
}

// FastForward projects the subscription to where its schedule says it
// should be. Without save it is a dry run returning the projected
// chain.
func (h *Handler) FastForward(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	var req fastForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: err.Error()},
		})
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = *req.At
	}

	chain, err := h.service.FastForward(c.Request.Context(), id, at, req.Save)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"chain": chain, "saved": req.Save})
}

// MessagesBehind reports how far the subscription trails its schedule,
// optionally at a caller-supplied instant (?at=RFC3339).
func (h *Handler) MessagesBehind(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httputil.Response{
			Success: false,
			Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid subscription ID"},
		})
		return
	}

	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httputil.Response{
				Success: false,
				Error:   &httputil.Error{Code: http.StatusBadRequest, Message: "invalid at timestamp"},
			})
			return
		}
		at = parsed
	}

	behind, err := h.service.MessagesBehind(c.Request.Context(), id, at)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"subscription_id": id, "at": at, "messages_behind": behind})
}
