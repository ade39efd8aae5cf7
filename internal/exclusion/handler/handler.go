package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nser/internal/exclusion/models"
	"nser/internal/exclusion/service"
	id "nser/pkg/domain"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, cmd service.RegisterCommand) (*models.Exclusion, error)
	Get(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error)
	GetByReference(ctx context.Context, reference string) (*models.Exclusion, error)
	ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.Exclusion, error)
	Activate(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error)
	Renew(ctx context.Context, exclusionID id.ExclusionID) (*models.Exclusion, error)
	Terminate(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error)
	Suspend(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error)
	Revoke(ctx context.Context, exclusionID id.ExclusionID, reason string) (*models.Exclusion, error)
}

// Handler serves the exclusion administration endpoints.
type Handler struct {
	exclusions Service
	logger     *slog.Logger
}

func New(exclusions Service, logger *slog.Logger) *Handler {
	return &Handler{exclusions: exclusions, logger: logger}
}

// RegisterAdmin mounts the admin routes. The caller applies admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/exclusions", h.HandleRegister)
	r.Get("/admin/exclusions/{id}", h.HandleGet)
	r.Get("/admin/exclusions/by-reference/{reference}", h.HandleGetByReference)
	r.Get("/admin/tokens/{id}/exclusions", h.HandleListByToken)
	r.Post("/admin/exclusions/{id}/activate", h.HandleActivate)
	r.Post("/admin/exclusions/{id}/renew", h.HandleRenew)
	r.Post("/admin/exclusions/{id}/terminate", h.reasoned("terminate", h.exclusions.Terminate))
	r.Post("/admin/exclusions/{id}/suspend", h.reasoned("suspend", h.exclusions.Suspend))
	r.Post("/admin/exclusions/{id}/revoke", h.reasoned("revoke", h.exclusions.Revoke))
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	exclusion, err := h.exclusions.Register(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to register exclusion",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, exclusion)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	exclusionID, ok := h.exclusionID(w, r)
	if !ok {
		return
	}
	exclusion, err := h.exclusions.Get(r.Context(), exclusionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exclusion)
}

func (h *Handler) HandleGetByReference(w http.ResponseWriter, r *http.Request) {
	exclusion, err := h.exclusions.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exclusion)
}

func (h *Handler) HandleListByToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.exclusions.ListByToken(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"exclusions": list})
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.handleBare(w, r, "activate", h.exclusions.Activate)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	h.handleBare(w, r, "renew", h.exclusions.Renew)
}

func (h *Handler) handleBare(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, id.ExclusionID) (*models.Exclusion, error)) {
	ctx := r.Context()
	exclusionID, ok := h.exclusionID(w, r)
	if !ok {
		return
	}
	exclusion, err := fn(ctx, exclusionID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to "+op+" exclusion",
			"request_id", requestcontext.RequestID(ctx),
			"exclusion_id", exclusionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exclusion)
}

func (h *Handler) reasoned(op string, fn func(context.Context, id.ExclusionID, string) (*models.Exclusion, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)
		exclusionID, ok := h.exclusionID(w, r)
		if !ok {
			return
		}
		req, ok := httputil.DecodeAndPrepare[TransitionRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		exclusion, err := fn(ctx, exclusionID, req.Reason)
		if err != nil {
			h.logger.WarnContext(ctx, "failed to "+op+" exclusion",
				"request_id", requestID,
				"exclusion_id", exclusionID,
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, exclusion)
	}
}

func (h *Handler) exclusionID(w http.ResponseWriter, r *http.Request) (id.ExclusionID, bool) {
	exclusionID, err := id.ParseExclusionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ExclusionID{}, false
	}
	return exclusionID, true
}
