package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/license"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// maxQueryBody bounds a question request body.
const maxQueryBody = 1 << 20

// QueryHandler answers natural-language questions.
type QueryHandler struct {
	ask    services.AskService
	logger *zap.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(ask services.AskService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		ask:    ask,
		logger: logger.Named("query-handler"),
	}
}

// RegisterRoutes registers the query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
}

// Query handles POST /api/query.
//
// Status codes:
//   - 200 succeeded
//   - 422 exhausted or non_convergent, with the failure history
//   - 403 denied by the license gate
//   - 400 malformed body or empty question
//   - 408 cancelled or timed out before a terminal outcome
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxQueryBody))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ctx := r.Context()
	if token := bearerToken(r); token != "" {
		ctx = license.WithToken(ctx, token)
	}

	resp, err := h.ask.Ask(ctx, &req)
	if resp == nil {
		h.writeAskError(w, err)
		return
	}
	if err != nil {
		h.logger.Debug("Query ended early", zap.String("session_id", resp.SessionID), zap.Error(err))
	}

	if err := WriteJSON(w, statusFor(resp), resp); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func statusFor(resp *models.QueryResponse) int {
	switch resp.Status {
	case models.SessionStatusSucceeded:
		return http.StatusOK
	case models.SessionStatusDenied:
		return http.StatusForbidden
	case models.SessionStatusExhausted, models.SessionStatusNonConvergent:
		return http.StatusUnprocessableEntity
	case models.SessionStatusCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *QueryHandler) writeAskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidQuestion):
		h.writeError(w, http.StatusBadRequest, "invalid_question", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "schema_not_found", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusRequestTimeout, "cancelled", "Request cancelled")
	default:
		h.logger.Error("Failed to answer question", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to answer question")
	}
}

func (h *QueryHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
