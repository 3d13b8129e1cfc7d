package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
)

// Response represents the standard API response envelope
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`    // e.g. NOT_FRIENDS
	Message string `json:"message"` // human-readable
	Details any    `json:"details,omitempty"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func meta(c *gin.Context) Meta {
	return Meta{Timestamp: time.Now().UTC(), RequestID: getRequestID(c)}
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta(c)})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error:   &ErrorDetail{Code: errorCode, Message: errorMessage},
		Meta:    meta(c),
	})
}

// FromError writes err as an error envelope. AppErrors keep their code and
// status; anything else is logged and hidden behind a 500.
func FromError(c *gin.Context, err error) {
	appErr := appErrors.GetAppError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", getRequestID(c)),
			zap.Error(err))
	}
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorDetail{Code: string(appErr.Code), Message: appErr.Message, Details: appErr.Details},
		Meta:    meta(c),
	})
}

// AbortWithError writes err and stops the handler chain
func AbortWithError(c *gin.Context, err error) {
	FromError(c, err)
	c.Abort()
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(appErrors.ErrCodeValidation), message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(appErrors.ErrCodeUnauthorized), message)
}

// InternalError sends internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(appErrors.ErrCodeInternal), message)
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
