package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/nsearch/data/search"
)

// Business codes carried by error bodies
const (
	CodeRequest     = -400
	CodeNotFound    = -404
	CodeServer      = -500
	CodeBackend     = -502
	CodeUnavailable = -503
)

// Exception is the body of a failed request
type Exception struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Errors  any    `json:"errors,omitempty"`
}

func (e *Exception) Error() string { return e.Message }

// BadRequest indicates a malformed request.
func BadRequest(message string, errs ...any) *Exception {
	return newException(http.StatusBadRequest, CodeRequest, message, errs...)
}

// NotFound indicates an absent index or document.
func NotFound(message string, errs ...any) *Exception {
	return newException(http.StatusNotFound, CodeNotFound, message, errs...)
}

// InternalServer indicates a failure of the server itself.
func InternalServer(message string, errs ...any) *Exception {
	return newException(http.StatusInternalServerError, CodeServer, message, errs...)
}

// BadGateway indicates a failure reported by a search backend.
func BadGateway(message string, errs ...any) *Exception {
	return newException(http.StatusBadGateway, CodeBackend, message, errs...)
}

func newException(status, code int, message string, errs ...any) *Exception {
	e := &Exception{Status: status, Code: code, Message: message}
	if len(errs) > 0 {
		e.Errors = errs[0]
	}
	return e
}

// FromError maps a search error to its response
func FromError(err error) *Exception {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex
	}
	var bulk *search.BulkError
	switch {
	case search.IsTranslation(err), search.IsConfiguration(err):
		return BadRequest(err.Error())
	case search.IsNotFound(err), errors.Is(err, search.ErrIndexNotFound):
		return NotFound(err.Error())
	case errors.As(err, &bulk):
		return BadGateway(err.Error(), bulk.Failures)
	case errors.Is(err, search.ErrBackend):
		return BadGateway(err.Error())
	case errors.Is(err, search.ErrNoAdapter):
		return newException(http.StatusServiceUnavailable, CodeUnavailable, err.Error())
	default:
		return InternalServer(err.Error())
	}
}

// Success writes data with status 200
func Success(c *gin.Context, data any) {
	if data == nil {
		data = gin.H{"message": "ok"}
	}
	c.JSON(http.StatusOK, data)
}

// Fail writes the response of err and aborts the chain
func Fail(c *gin.Context, err error) {
	ex := FromError(err)
	status := ex.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ex)
}
