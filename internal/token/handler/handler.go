package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nser/internal/token/models"
	id "nser/pkg/domain"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	Issue(ctx context.Context, ownerRef string) (*models.Token, error)
	Get(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	Lineage(ctx context.Context, tokenID id.TokenID) ([]*models.Token, error)
	Rotate(ctx context.Context, tokenID id.TokenID, reason string) (*models.Token, error)
	Compromise(ctx context.Context, tokenID id.TokenID, reason string, autoRotate bool) (*models.CompromiseResult, error)
	Validate(ctx context.Context, value string) (*models.ValidationResult, error)
}

// Handler serves the token administration endpoints and the operator
// validation endpoint.
type Handler struct {
	tokens Service
	logger *slog.Logger
}

func New(tokens Service, logger *slog.Logger) *Handler {
	return &Handler{tokens: tokens, logger: logger}
}

// RegisterAdmin mounts the admin routes. The caller applies admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/tokens", h.HandleIssue)
	r.Get("/admin/tokens/{id}", h.HandleGet)
	r.Get("/admin/tokens/{id}/lineage", h.HandleLineage)
	r.Post("/admin/tokens/{id}/rotate", h.HandleRotate)
	r.Post("/admin/tokens/{id}/compromise", h.HandleCompromise)
}

// RegisterOperator mounts the operator routes. The caller applies operator auth.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/v1/tokens/validate", h.HandleValidate)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	tok, err := h.tokens.Issue(ctx, req.OwnerRef)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to issue token",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tok)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	tok, err := h.tokens.Get(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tok)
}

func (h *Handler) HandleLineage(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	chain, err := h.tokens.Lineage(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tokens": chain})
}

func (h *Handler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RotateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	next, err := h.tokens.Rotate(ctx, tokenID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to rotate token",
			"request_id", requestID,
			"token_id", tokenID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, next)
}

func (h *Handler) HandleCompromise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tokenID, ok := h.tokenID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CompromiseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.tokens.Compromise(ctx, tokenID, req.Reason, req.ShouldRotate())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to mark token compromised",
			"request_id", requestID,
			"token_id", tokenID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleValidate answers an operator's token check. Malformed values are
// rejected with 400 before any lookup.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[ValidateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.tokens.Validate(ctx, req.Token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) tokenID(w http.ResponseWriter, r *http.Request) (id.TokenID, bool) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.TokenID{}, false
	}
	return tokenID, true
}
