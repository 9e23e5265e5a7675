package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/filterql"
)

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classify(err error) (int, string) {
	var qe *entity.QueryError
	var tm *entity.TypeMismatchError
	switch {
	case errors.Is(err, filterql.ErrSyntax), errors.As(err, &qe):
		return http.StatusBadRequest, "invalid_query"
	case errors.As(err, &tm):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, entity.ErrElementNotFound), errors.Is(err, entity.ErrFileNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, entity.ErrInfoBlockNotFound):
		return http.StatusServiceUnavailable, "schema_not_built"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorBody{Error: ErrorDetail{Code: code, Message: err.Error()}})
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorBody{Error: ErrorDetail{Code: "bad_request", Message: message}})
}
