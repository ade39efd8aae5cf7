package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nser/internal/operator/models"
	"nser/internal/operator/service"
	id "nser/pkg/domain"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, cmd service.RegisterCommand) (*service.Registration, error)
	Get(ctx context.Context, operatorID id.OperatorID) (*models.Operator, error)
	List(ctx context.Context) ([]*models.Operator, error)
	ChangeLicense(ctx context.Context, operatorID id.OperatorID, to models.LicenseStatus, reason string) (*models.Operator, error)
	IssueAccessToken(ctx context.Context, clientID, apiKey string) (*service.AccessToken, error)
}

type Handler struct {
	operators Service
	logger    *slog.Logger
}

func New(operators Service, logger *slog.Logger) *Handler {
	return &Handler{operators: operators, logger: logger}
}

// RegisterAdmin mounts the directory administration routes. The caller applies admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/operators", h.HandleRegister)
	r.Get("/admin/operators", h.HandleList)
	r.Get("/admin/operators/{id}", h.HandleGet)
	r.Post("/admin/operators/{id}/license", h.HandleChangeLicense)
}

// RegisterPublic mounts the token exchange, which is its own authentication.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/v1/operators/token", h.HandleToken)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	reg, err := h.operators.Register(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to register operator",
			"request_id", requestID,
			"client_id", req.ClientID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, reg)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ops, err := h.operators.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"operators": ops})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	operatorID, err := id.ParseOperatorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	op, err := h.operators.Get(r.Context(), operatorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}

func (h *Handler) HandleChangeLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	operatorID, err := id.ParseOperatorID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[LicenseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	op, err := h.operators.ChangeLicense(ctx, operatorID, models.LicenseStatus(req.Status), req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to change operator license",
			"request_id", requestID,
			"operator_id", operatorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, op)
}

func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	token, err := h.operators.IssueAccessToken(ctx, req.ClientID, req.APIKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, token)
}
