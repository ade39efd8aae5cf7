package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"nser/internal/propagation/handler/mocks"
	"nser/internal/propagation/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
	"nser/pkg/requestcontext"
)

func newRouter(t *testing.T, operatorID id.OperatorID) (*mocks.MockService, http.Handler) {
	t.Helper()
	svc := mocks.NewMockService(gomock.NewController(t))
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.RegisterAdmin(r)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := req.Context()
				if !operatorID.IsNil() {
					ctx = requestcontext.WithOperatorID(ctx, operatorID)
				}
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		h.RegisterOperator(r)
	})
	return svc, r
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleCompliance(t *testing.T) {
	svc, router := newRouter(t, id.OperatorID{})
	exclusionID := id.NewExclusionID()
	svc.EXPECT().GetComplianceSummary(gomock.Any(), exclusionID).Return(&models.ComplianceSummary{
		ExclusionID:           exclusionID,
		StateVersion:          2,
		Status:                models.AggregatePartial,
		OperatorsTotal:        3,
		OperatorsAcknowledged: 2,
		OperatorsFailed:       1,
	}, nil)

	rec := do(t, router, http.MethodGet, "/admin/exclusions/"+exclusionID.String()+"/compliance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "partial", body["status"])
	assert.EqualValues(t, 2, body["operators_acknowledged"])
}

func TestHandleReset(t *testing.T) {
	exclusionID := id.NewExclusionID()
	operatorID := id.NewOperatorID()
	path := "/admin/exclusions/" + exclusionID.String() + "/deliveries/" + operatorID.String() + "/reset"

	t.Run("reason is required", func(t *testing.T) {
		_, router := newRouter(t, id.OperatorID{})
		rec := do(t, router, http.MethodPost, path, map[string]string{"reason": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delivery that has not failed is a conflict", func(t *testing.T) {
		svc, router := newRouter(t, id.OperatorID{})
		svc.EXPECT().ResetForRetry(gomock.Any(), exclusionID, operatorID, "endpoint fixed").
			Return(nil, dErrors.New(dErrors.CodeConflict, "only failed deliveries can be reset"))
		rec := do(t, router, http.MethodPost, path, map[string]string{"reason": "endpoint fixed"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("returns the pending delivery", func(t *testing.T) {
		svc, router := newRouter(t, id.OperatorID{})
		d := models.NewDelivery(exclusionID, operatorID, 1, 5, time.Now())
		svc.EXPECT().ResetForRetry(gomock.Any(), exclusionID, operatorID, "endpoint fixed").Return(d, nil)
		rec := do(t, router, http.MethodPost, path, map[string]string{"reason": "endpoint fixed"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	})
}

func TestHandleAcknowledge(t *testing.T) {
	exclusionID := id.NewExclusionID()

	t.Run("operator identity comes from the token, not the body", func(t *testing.T) {
		operatorID := id.NewOperatorID()
		svc, router := newRouter(t, operatorID)
		now := time.Now().UTC()
		svc.EXPECT().Acknowledge(gomock.Any(), models.Acknowledgement{
			ExclusionID:  exclusionID,
			OperatorID:   operatorID,
			StateVersion: 4,
		}).DoAndReturn(func(_ context.Context, ack models.Acknowledgement) (*models.Delivery, error) {
			d := models.NewDelivery(ack.ExclusionID, ack.OperatorID, ack.StateVersion, 5, now)
			d.Acknowledge(now)
			return d, nil
		})

		rec := do(t, router, http.MethodPost, "/v1/acknowledgements", map[string]any{
			"exclusion_id":  exclusionID.String(),
			"state_version": 4,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "acknowledged", body["status"])
		assert.EqualValues(t, 4, body["state_version"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		_, router := newRouter(t, id.OperatorID{})
		rec := do(t, router, http.MethodPost, "/v1/acknowledgements", map[string]any{
			"exclusion_id":  exclusionID.String(),
			"state_version": 1,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid payloads", func(t *testing.T) {
		tests := []struct {
			name string
			body map[string]any
		}{
			{"malformed exclusion id", map[string]any{"exclusion_id": "nope", "state_version": 1}},
			{"missing state version", map[string]any{"exclusion_id": exclusionID.String()}},
			{"unknown field", map[string]any{"exclusion_id": exclusionID.String(), "state_version": 1, "operator_id": "x"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, router := newRouter(t, id.NewOperatorID())
				rec := do(t, router, http.MethodPost, "/v1/acknowledgements", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
	})

	t.Run("superseded version is a conflict", func(t *testing.T) {
		svc, router := newRouter(t, id.NewOperatorID())
		svc.EXPECT().Acknowledge(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "acknowledgement is for a superseded state version"))
		rec := do(t, router, http.MethodPost, "/v1/acknowledgements", map[string]any{
			"exclusion_id":  exclusionID.String(),
			"state_version": 1,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
