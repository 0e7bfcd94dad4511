package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "talentbridge-backend/pkg/errors"
)

// Envelope is the JSON shape of every HTTP reply: data on success, a coded
// error otherwise, and request metadata either way.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// ErrorBody carries the application error code and a readable message
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func meta(c *gin.Context) Meta {
	m := Meta{Timestamp: time.Now().UTC()}
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			m.RequestID = s
		}
	}
	return m
}

// Success sends data wrapped in the success envelope
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Envelope{Success: true, Data: data, Meta: meta(c)})
}

// Error sends a coded error envelope
func Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message},
		Meta:    meta(c),
	})
}

// AppError sends the envelope for an application error, using its embedded
// HTTP status and code. Non-AppErrors surface as internal errors.
func AppError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
}

// ValidationError sends a 400 validation error
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(apperrors.ErrCodeValidation), message)
}

// Unauthorized sends a 401
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(apperrors.ErrCodeUnauthorized), message)
}

// InternalError sends a 500
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, string(apperrors.ErrCodeInternal), message)
}
