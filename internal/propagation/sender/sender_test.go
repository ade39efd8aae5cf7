package sender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opmodels "nser/internal/operator/models"
	"nser/internal/propagation/models"
	id "nser/pkg/domain"
)

func operatorFor(t *testing.T, endpoint string) *opmodels.Operator {
	t.Helper()
	op, err := opmodels.NewOperator(id.NewOperatorID(), "Acme", "LIC-1", endpoint, "acme-bet", "hash", "delivery-secret", nil, time.Now())
	require.NoError(t, err)
	return op
}

func sampleNotice() models.Notice {
	return models.Notice{
		ExclusionID:  id.NewExclusionID(),
		Reference:    "SE-20240101-ABCDEF",
		TokenValue:   "NSER-01-ABCDEF0123456789-0042",
		Status:       "active",
		EffectiveAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC),
		StateVersion: 2,
	}
}

func TestSend_SignsAndAcknowledges(t *testing.T) {
	notice := sampleNotice()
	var (
		gotKey       string
		gotSignature string
		gotBody      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HeaderIdempotencyKey)
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ack":true}`))
	}))
	defer srv.Close()

	op := operatorFor(t, srv.URL)
	require.NoError(t, NewHTTP("nser").Send(context.Background(), op, notice))

	assert.Equal(t, notice.ExclusionID.String()+":2", gotKey)
	assert.Contains(t, string(gotBody), `"tokenValue":"NSER-01-ABCDEF0123456789-0042"`)
	assert.Contains(t, string(gotBody), `"stateVersion":2`)

	claims, err := VerifySignature(gotSignature, "delivery-secret", op.ID.String(), gotBody)
	require.NoError(t, err)
	assert.Equal(t, gotKey, claims.ID)

	_, err = VerifySignature(gotSignature, "delivery-secret", op.ID.String(), append(gotBody, ' '))
	assert.Error(t, err, "signature is bound to the exact body")
	_, err = VerifySignature(gotSignature, "other-secret", op.ID.String(), gotBody)
	assert.Error(t, err)
}

func TestSend_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		category  Category
		retryable bool
	}{
		{"server error", http.StatusBadGateway, "", CategoryServerError, true},
		{"throttled", http.StatusTooManyRequests, "", CategoryServerError, true},
		{"rejected", http.StatusUnprocessableEntity, "", CategoryRejected, false},
		{"explicit negative ack", http.StatusOK, `{"ack":false}`, CategoryBadResponse, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTP("nser").Send(context.Background(), operatorFor(t, srv.URL), sampleNotice())
			var de *DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.category, de.Category)
			assert.Equal(t, tt.retryable, de.Retryable)
		})
	}
}

func TestSend_EmptyAndUnstructuredBodiesAcknowledge(t *testing.T) {
	for _, body := range []string{"", "OK", `{"received":true}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(body))
		}))
		assert.NoError(t, NewHTTP("nser").Send(context.Background(), operatorFor(t, srv.URL), sampleNotice()), "body %q", body)
		srv.Close()
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := NewHTTP("nser").Send(ctx, operatorFor(t, srv.URL), sampleNotice())

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, CategoryTimeout, de.Category)
	assert.True(t, de.Retryable)
}

func TestSend_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	err := NewHTTP("nser").Send(context.Background(), operatorFor(t, endpoint), sampleNotice())
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, CategoryConnection, de.Category)
	assert.True(t, de.Retryable)
}
