package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/semantic-faq/internal/domain/faq"
	apperrors "github.com/yanqian/semantic-faq/pkg/errors"
)

// HTTPError carries the status and caller safe message of a failed request.
// Err is logged but never rendered.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return domainError(err, http.StatusText(http.StatusInternalServerError))
}

// domainError maps a service error onto an HTTP status. message is what the
// caller sees, except for invalid input which always asks for a query.
func domainError(err error, message string) *HTTPError {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case faq.CodeInvalidInput:
		status = http.StatusBadRequest
		message = msgEnterQuery
	case faq.CodeInvalidDataset:
		status = http.StatusBadRequest
	case faq.CodeNotFound:
		status = http.StatusNotFound
	case faq.CodeEmbeddingUnavailable:
		status = http.StatusBadGateway
	case faq.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	case "":
		code = "internal_error"
	}
	return NewHTTPError(status, code, message, err)
}

func abortWithError(c *gin.Context, err *HTTPError) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}
