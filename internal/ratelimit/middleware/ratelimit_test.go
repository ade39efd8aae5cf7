package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nser/internal/ratelimit/models"
	"nser/internal/ratelimit/store"
	id "nser/pkg/domain"
	"nser/pkg/requestcontext"
	"nser/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPerOperator(t *testing.T) {
	policy := models.Policy{Limit: 2, Window: time.Minute}
	m := New(store.NewInMemory(), discard())
	handler := m.PerOperator(policy)(ok)

	a, b := id.NewOperatorID(), id.NewOperatorID()
	call := func(operatorID id.OperatorID) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/lookup", nil)
		return testutil.DoRequest(handler, testutil.AsOperator(req, operatorID))
	}

	t.Run("within the limit", func(t *testing.T) {
		rec := call(a)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
		assert.Equal(t, http.StatusNoContent, call(a).Code)
	})

	t.Run("over the limit is a 429", func(t *testing.T) {
		rec := call(a)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		body := testutil.DecodeJSON[models.RateLimitExceededResponse](t, rec)
		assert.Equal(t, "rate_limit_exceeded", body.Error)
		assert.Positive(t, body.RetryAfter)
	})

	t.Run("other operators have their own window", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, call(b).Code)
	})

	t.Run("unauthenticated requests pass through", func(t *testing.T) {
		rec := testutil.DoRequest(handler, httptest.NewRequest(http.MethodPost, "/v1/lookup", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	})
}

func TestPerClientIP(t *testing.T) {
	m := New(store.NewInMemory(), discard())
	handler := m.PerClientIP(models.Policy{Limit: 1, Window: time.Minute})(ok)

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/operators/token", nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test", "api"))
		return testutil.DoRequest(handler, req).Code
	}
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2"))
}

func TestFailsOpen(t *testing.T) {
	m := New(failingStore{}, discard())
	handler := m.PerOperator(models.Policy{Limit: 1, Window: time.Minute})(ok)
	req := testutil.AsOperator(httptest.NewRequest(http.MethodPost, "/v1/lookup", nil), id.NewOperatorID())
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(handler, req).Code)
	}
}

func TestDisabledAndZeroPolicy(t *testing.T) {
	req := testutil.AsOperator(httptest.NewRequest(http.MethodPost, "/v1/lookup", nil), id.NewOperatorID())

	disabled := New(store.NewInMemory(), discard(), WithDisabled(true)).PerOperator(models.Policy{Limit: 1, Window: time.Minute})(ok)
	zero := New(store.NewInMemory(), discard()).PerOperator(models.Policy{})(ok)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(disabled, req).Code)
		assert.Equal(t, http.StatusNoContent, testutil.DoRequest(zero, req).Code)
	}
}
