package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/submerge-go/internal/convert"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/pipeline"
	"github.com/John-Robertt/submerge-go/internal/sub/node"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ae *APIError
	if errors.As(err, &ae) {
		writeAppError(w, ae.Status, ae.AppError)
		return
	}

	var ie *pipeline.IdentityError
	if errors.As(err, &ie) {
		writeAppError(w, ie.Status, ie.AppError)
		return
	}

	var ce *convert.ConverterError
	if errors.As(err, &ce) {
		writeAppError(w, http.StatusBadGateway, ce.AppError)
		return
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		writeAppError(w, fe.Status, fe.AppError)
		return
	}

	var pe *node.ParseError
	if errors.As(err, &pe) {
		writeAppError(w, http.StatusUnprocessableEntity, pe.AppError)
		return
	}

	// Fallback: internal bug or storage failure. The cause stays in the logs.
	writeAppError(w, http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
		Stage:   "internal",
	})
}

func writeAppError(w http.ResponseWriter, status int, e model.AppError) {
	metricsIncAppError(e.Stage, e.Code)
	WriteError(w, status, e)
}
