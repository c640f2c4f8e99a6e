// Package server provides the HTTP REST API for lead pools, imports and
// autogen jobs.
package server

import (
	"errors"
	"net/http"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var (
		validation *types.ValidationError
		notFound   *types.NotFoundError
		conflict   *types.ConflictError
		transition *types.TransitionError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &transition):
		return http.StatusConflict
	case errors.Is(err, autogen.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
