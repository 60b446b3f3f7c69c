package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in ErrorInfo.Code. They match the codes sent in
// websocket error frames.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalError = "INTERNAL_ERROR"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          CodeBadRequest,
	http.StatusUnauthorized:        CodeUnauthorized,
	http.StatusForbidden:           CodeForbidden,
	http.StatusNotFound:            CodeNotFound,
	http.StatusConflict:            CodeConflict,
	http.StatusServiceUnavailable:  CodeUnavailable,
	http.StatusInternalServerError: CodeInternalError,
}

// Response is the envelope of every REST reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeFor returns the error code used for an HTTP status.
func CodeFor(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= http.StatusInternalServerError {
		return CodeInternalError
	}
	return CodeBadRequest
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

// ServiceUnavailable reports a failing dependency. data, when non-nil, is
// sent alongside the error so callers can see which dependency failed.
func ServiceUnavailable(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Success: false,
		Data:    data,
		Error:   &ErrorInfo{Code: CodeUnavailable, Message: message},
	})
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeInternalError, message)
}

// Rule maps every error matching Target (via errors.Is) to Status.
type Rule struct {
	Target error
	Status int
}

// ErrorMap translates service errors into error responses. Rules are tried
// in order, so more specific targets go first.
type ErrorMap []Rule

// Status returns the status of the first rule matching err.
func (m ErrorMap) Status(err error) (int, bool) {
	for _, r := range m {
		if errors.Is(err, r.Target) {
			return r.Status, true
		}
	}
	return 0, false
}

// Write sends the response for err and reports whether a rule matched.
// Unmatched errors get a 500 carrying fallback instead of err's text.
func (m ErrorMap) Write(c *gin.Context, err error, fallback string) bool {
	status, ok := m.Status(err)
	if !ok {
		InternalError(c, fallback)
		return false
	}
	Error(c, status, CodeFor(status), err.Error())
	return true
}
