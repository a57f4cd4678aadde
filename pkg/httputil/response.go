package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driplabs/drip-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response. AppError codes map onto
// HTTP statuses; everything else is an opaque 500 so internals never
// leak to API clients.
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	if appErr, ok := err.(*errors.AppError); ok {
		message = appErr.Message
		switch appErr.Code {
		case errors.ErrNotFound:
			statusCode = http.StatusNotFound
		case errors.ErrBadRequest:
			statusCode = http.StatusBadRequest
		case errors.ErrConflict:
			statusCode = http.StatusConflict
		case errors.ErrBenignAbort:
			// A no-op delivery is reported, not failed.
			c.JSON(http.StatusOK, Response{
				Success: true,
				Data:    gin.H{"aborted": true, "reason": appErr.Message},
			})
			return
		}
	}

	c.JSON(statusCode, Response{
		Success: false,
		Error: &Error{
			Code:    statusCode,
			Message: message,
		},
	})
}
