package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nser/internal/lookup/models"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	Lookup(ctx context.Context, req models.Request) (*models.Result, error)
}

// Handler serves the operator lookup endpoint.
type Handler struct {
	lookups Service
	logger  *slog.Logger
}

func New(lookups Service, logger *slog.Logger) *Handler {
	return &Handler{lookups: lookups, logger: logger}
}

// RegisterOperator mounts the lookup route. The caller applies operator
// bearer auth.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/v1/lookup", h.HandleLookup)
}

// HandleLookup handles POST /v1/lookup.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	operatorID := requestcontext.OperatorID(ctx)
	if operatorID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator authentication required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[models.Request](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.lookups.Lookup(ctx, *req)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeInvalidFormat) {
			h.logger.ErrorContext(ctx, "lookup failed",
				"request_id", requestID,
				"operator_id", operatorID,
				"source", req.Source(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
