package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nser/internal/propagation/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/platform/httputil"
	"nser/pkg/requestcontext"
)

type Service interface {
	GetComplianceSummary(ctx context.Context, exclusionID id.ExclusionID) (*models.ComplianceSummary, error)
	ResetForRetry(ctx context.Context, exclusionID id.ExclusionID, operatorID id.OperatorID, reason string) (*models.Delivery, error)
	Acknowledge(ctx context.Context, ack models.Acknowledgement) (*models.Delivery, error)
}

type Handler struct {
	propagation Service
	logger      *slog.Logger
}

func New(propagation Service, logger *slog.Logger) *Handler {
	return &Handler{propagation: propagation, logger: logger}
}

// RegisterAdmin mounts compliance reporting and the manual retry override.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/exclusions/{id}/compliance", h.HandleCompliance)
	r.Post("/admin/exclusions/{id}/deliveries/{operatorId}/reset", h.HandleReset)
}

// RegisterOperator mounts the acknowledgement callback. The caller applies
// operator bearer auth.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/v1/acknowledgements", h.HandleAcknowledge)
}

func (h *Handler) HandleCompliance(w http.ResponseWriter, r *http.Request) {
	exclusionID, err := id.ParseExclusionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.propagation.GetComplianceSummary(r.Context(), exclusionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	exclusionID, err := id.ParseExclusionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	operatorID, err := id.ParseOperatorID(chi.URLParam(r, "operatorId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResetRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	d, err := h.propagation.ResetForRetry(ctx, exclusionID, operatorID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to reset delivery",
			"request_id", requestID,
			"exclusion_id", exclusionID,
			"operator_id", operatorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	operatorID := requestcontext.OperatorID(ctx)
	if operatorID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator authentication required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[AcknowledgeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	d, err := h.propagation.Acknowledge(ctx, req.Acknowledgement(operatorID))
	if err != nil {
		h.logger.WarnContext(ctx, "acknowledgement rejected",
			"request_id", requestID,
			"operator_id", operatorID,
			"exclusion_id", req.ExclusionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AcknowledgeResponse{
		ExclusionID:    d.ExclusionID,
		StateVersion:   d.StateVersion,
		Status:         d.Status,
		AcknowledgedAt: d.AcknowledgedAt,
	})
}

type ResetRequest struct {
	Reason string `json:"reason"`
}

func (r *ResetRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

type AcknowledgeRequest struct {
	ExclusionID  string `json:"exclusion_id"`
	StateVersion int    `json:"state_version"`

	exclusionID id.ExclusionID
}

func (r *AcknowledgeRequest) Validate() error {
	parsed, err := id.ParseExclusionID(strings.TrimSpace(r.ExclusionID))
	if err != nil {
		return err
	}
	if r.StateVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "state_version must be positive")
	}
	r.exclusionID = parsed
	return nil
}

func (r *AcknowledgeRequest) Acknowledgement(operatorID id.OperatorID) models.Acknowledgement {
	return models.Acknowledgement{ExclusionID: r.exclusionID, OperatorID: operatorID, StateVersion: r.StateVersion}
}

// AcknowledgeResponse confirms what the register recorded for the operator.
type AcknowledgeResponse struct {
	ExclusionID    id.ExclusionID        `json:"exclusion_id"`
	StateVersion   int                   `json:"state_version"`
	Status         models.DeliveryStatus `json:"status"`
	AcknowledgedAt *time.Time            `json:"acknowledged_at,omitempty"`
}
