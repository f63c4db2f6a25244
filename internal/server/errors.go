package server

import (
	"errors"
	"net/http"

	"github.com/adaptive-context-kernel/internal/compile"
	"github.com/adaptive-context-kernel/internal/gating"
	"github.com/adaptive-context-kernel/internal/graph"
)

// statusFor maps kernel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gating.ErrInvalidInput),
		errors.Is(err, compile.ErrInvalidBudget),
		errors.Is(err, graph.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
