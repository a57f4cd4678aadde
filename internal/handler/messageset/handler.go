package messageset

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driplabs/drip-api/internal/model"
	messagesetService "github.com/driplabs/drip-api/internal/service/messageset"
	"github.com/driplabs/drip-api/pkg/httputil"
)

type Handler struct {
	service messagesetService.Service
}

func NewHandler(service messagesetService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sets := r.Group("/messagesets")
	{
		sets.POST("", h.Create)
		sets.GET("", h.List)
		sets.GET("/:id", h.Get)
		sets.PUT("/:id", h.Update)
		sets.DELETE("/:id", h.Delete)

		sets.POST("/:id/messages", h.AddMessage)
		sets.GET("/:id/messages", h.ListMessages)
	}

	messages := r.Group("/messages")
	{
		messages.PUT("/:id", h.UpdateMessage)
		messages.DELETE("/:id", h.DeleteMessage)
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, httputil.Response{
		Success: false,
		Error:   &httputil.Error{Code: http.StatusBadRequest, Message: message},
	})
}

type createSetRequest struct {
	ShortName         string     `json:"short_name" binding:"required"`
	ContentType       string     `json:"content_type" binding:"required"`
	NextSetID         *uuid.UUID `json:"next_set_id"`
	DefaultScheduleID uuid.UUID  `json:"default_schedule_id" binding:"required"`
	Channel           *string    `json:"channel"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	set := &model.MessageSet{
		ShortName:         req.ShortName,
		ContentType:       model.ContentType(req.ContentType),
		NextSetID:         req.NextSetID,
		DefaultScheduleID: req.DefaultScheduleID,
		Channel:           req.Channel,
	}
	if err := h.service.Create(c.Request.Context(), set); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.Response{Success: true, Data: set})
}

func (h *Handler) Get(c *gin.Context) {
	// Short names double as identifiers here so the scheduler side can
	// address sets without knowing UUIDs.
	if id, err := uuid.Parse(c.Param("id")); err == nil {
		set, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, set)
		return
	}

	set, err := h.service.GetByShortName(c.Request.Context(), c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, set)
}

func (h *Handler) List(c *gin.Context) {
	sets, err := h.service.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sets)
}

type updateSetRequest struct {
	ShortName         string     `json:"short_name" binding:"required"`
	ContentType       string     `json:"content_type" binding:"required"`
	NextSetID         *uuid.UUID `json:"next_set_id"`
	DefaultScheduleID uuid.UUID  `json:"default_schedule_id" binding:"required"`
	Channel           *string    `json:"channel"`
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message set ID")
		return
	}

	var req updateSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	set := &model.MessageSet{
		ID:                id,
		ShortName:         req.ShortName,
		ContentType:       model.ContentType(req.ContentType),
		NextSetID:         req.NextSetID,
		DefaultScheduleID: req.DefaultScheduleID,
		Channel:           req.Channel,
	}
	if err := h.service.Update(c.Request.Context(), set); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, set)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message set ID")
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

type messageRequest struct {
	SequenceNumber int     `json:"sequence_number" binding:"required"`
	Lang           string  `json:"lang" binding:"required"`
	TextContent    *string `json:"text_content"`
	BinaryContent  *string `json:"binary_content"`
}

func (h *Handler) AddMessage(c *gin.Context) {
	setID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message set ID")
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	message := &model.Message{
		MessageSetID:   setID,
		SequenceNumber: req.SequenceNumber,
		Lang:           req.Lang,
		TextContent:    req.TextContent,
		BinaryContent:  req.BinaryContent,
	}
	if err := h.service.AddMessage(c.Request.Context(), message); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.Response{Success: true, Data: message})
}

func (h *Handler) ListMessages(c *gin.Context) {
	setID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message set ID")
		return
	}
	messages, err := h.service.ListMessages(c.Request.Context(), setID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, messages)
}

type updateMessageRequest struct {
	MessageSetID   uuid.UUID `json:"messageset_id" binding:"required"`
	SequenceNumber int       `json:"sequence_number" binding:"required"`
	Lang           string    `json:"lang" binding:"required"`
	TextContent    *string   `json:"text_content"`
	BinaryContent  *string   `json:"binary_content"`
}

func (h *Handler) UpdateMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message ID")
		return
	}

	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	message := &model.Message{
		ID:             id,
		MessageSetID:   req.MessageSetID,
		SequenceNumber: req.SequenceNumber,
		Lang:           req.Lang,
		TextContent:    req.TextContent,
		BinaryContent:  req.BinaryContent,
	}
	if err := h.service.UpdateMessage(c.Request.Context(), message); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, message)
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message ID")
		return
	}
	if err := h.service.DeleteMessage(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
