package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/logger"
)

// Response is the envelope every JSON endpoint answers with
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail carries a stable code plus a human readable message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func envelope(c *gin.Context) Response {
	return Response{Meta: Meta{Timestamp: time.Now().UTC(), RequestID: c.GetString("request_id")}}
}

// Success writes data with statusCode
func Success(c *gin.Context, statusCode int, data any) {
	r := envelope(c)
	r.Success = true
	r.Data = data
	c.JSON(statusCode, r)
}

// Error writes an error envelope
func Error(c *gin.Context, statusCode int, code, message string) {
	r := envelope(c)
	r.Error = &ErrorDetail{Code: code, Message: message}
	c.JSON(statusCode, r)
}

// FromError writes err. AppErrors keep their code and status; anything
// else is logged and reported as an internal error.
func FromError(c *gin.Context, err error) {
	log := logger.FromContext(c.Request.Context())
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		log.Error("Unhandled error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		InternalError(c, "Internal server error")
		return
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("code", string(appErr.Code)), zap.Error(err))
	}
	Error(c, status, string(appErr.Code), appErr.Message)
}

func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(apperrors.ErrCodeValidation), message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(apperrors.ErrCodeUnauthorized), message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, string(apperrors.ErrCodeForbidden), message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, string(apperrors.ErrCodeNotFound), message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperrors.ErrCodeInternal), message)
}
