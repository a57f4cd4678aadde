package reconcile

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	reconcileService "github.com/driplabs/drip-api/internal/service/reconcile"
	"github.com/driplabs/drip-api/pkg/httputil"
)

type Handler struct {
	service reconcileService.Service
}

func NewHandler(service reconcileService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rec := r.Group("/reconcile")
	{
		rec.POST("/behind-scan", h.RunBehindScan)
		rec.GET("/duplicates", h.ListDuplicates)
		rec.POST("/duplicates/fix", h.FixDuplicates)
		rec.POST("/requeue", h.RequeueFailures)
	}
}

type behindScanRequest struct {
	At *time.Time `json:"at"`
}

func (h *Handler) RunBehindScan(c *gin.Context) {
	var req behindScanRequest
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

	found, err := h.service.FindBehindSubscriptions(c.Request.Context(), at)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"behind": found, "count": len(found)})
}

func (h *Handler) ListDuplicates(c *gin.Context) {
	clusters, err := h.service.FindDuplicates(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (h *Handler) FixDuplicates(c *gin.Context) {
	clusters, err := h.service.FixDuplicates(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (h *Handler) RequeueFailures(c *gin.Context) {
	requeued, err := h.service.RequeueFailures(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"requeued": requeued})
}
