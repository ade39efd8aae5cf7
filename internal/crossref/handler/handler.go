package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"nser/internal/crossref/models"
	"nser/internal/crossref/service"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	Link(ctx context.Context, cmd service.LinkCommand) (*service.LinkResult, error)
	DetectDuplicates(ctx context.Context, identifiers []models.Identifier) (*models.DuplicateReport, error)
	ListByToken(ctx context.Context, tokenID id.TokenID) ([]*models.CrossReference, error)
}

type Handler struct {
	crossrefs Service
	logger    *slog.Logger
}

func New(crossrefs Service, logger *slog.Logger) *Handler {
	return &Handler{crossrefs: crossrefs, logger: logger}
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/crossrefs", h.HandleLink)
	r.Post("/admin/crossrefs/duplicates", h.HandleDetectDuplicates)
	r.Get("/admin/tokens/{id}/crossrefs", h.HandleListByToken)
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.crossrefs.Link(ctx, req.Command())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to link identifier",
			"request_id", requestID,
			"token_id", req.tokenID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) HandleDetectDuplicates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DuplicatesRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report, err := h.crossrefs.DetectDuplicates(ctx, req.Identifiers)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleListByToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	refs, err := h.crossrefs.ListByToken(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if refs == nil {
		refs = []*models.CrossReference{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cross_references": refs})
}

type LinkRequest struct {
	TokenID         string `json:"token_id"`
	IdentifierType  string `json:"identifier_type"`
	IdentifierValue string `json:"identifier_value"`
	Verified        bool   `json:"verified,omitempty"`

	tokenID id.TokenID
}

func (r *LinkRequest) Validate() error {
	tokenID, err := id.ParseTokenID(strings.TrimSpace(r.TokenID))
	if err != nil {
		return err
	}
	r.tokenID = tokenID
	if !models.IdentifierType(r.IdentifierType).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "identifier_type must be one of phone, email, national_id, device")
	}
	if strings.TrimSpace(r.IdentifierValue) == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier_value is required")
	}
	return nil
}

func (r *LinkRequest) Command() service.LinkCommand {
	return service.LinkCommand{
		TokenID:  r.tokenID,
		Type:     models.IdentifierType(r.IdentifierType),
		Value:    r.IdentifierValue,
		Verified: r.Verified,
	}
}

type DuplicatesRequest struct {
	Identifiers []models.Identifier `json:"identifiers"`
}

func (r *DuplicatesRequest) Validate() error {
	if len(r.Identifiers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "identifiers are required")
	}
	for _, ident := range r.Identifiers {
		if !ident.Type.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown identifier type "+string(ident.Type))
		}
		if (ident.Value == "") == (ident.Hash == "") {
			return dErrors.New(dErrors.CodeValidation, "each identifier needs exactly one of value or hash")
		}
	}
	return nil
}
