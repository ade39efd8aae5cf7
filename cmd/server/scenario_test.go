package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nser/internal/platform/config"
	"nser/internal/propagation/sender"
	"nser/pkg/platform/middleware/admin"
	"nser/pkg/testutil"
)

// fakeOperator is a platform endpoint that verifies signatures and records
// the idempotency keys it was sent.
type fakeOperator struct {
	mu         sync.Mutex
	operatorID string
	secret     string
	keys       []string
	badSigs    int
}

func (f *fakeOperator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := sender.VerifySignature(r.Header.Get(sender.HeaderSignature), f.secret, f.operatorID, body); err != nil {
		f.badSigs++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.keys = append(f.keys, r.Header.Get(sender.HeaderIdempotencyKey))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ack":true}`))
}

func (f *fakeOperator) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func TestExclusionReachesOperators(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "OPERATORS_FILE"} {
		t.Setenv(key, "")
	}
	t.Setenv("PROPAGATION_POLL_INTERVAL", "20ms")
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	app, err := build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(app.close)
	for _, run := range app.workers {
		go func() { _ = run(ctx) }()
	}

	op := &fakeOperator{}
	endpoint := httptest.NewServer(op)
	t.Cleanup(endpoint.Close)

	asAdmin := func(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
		req := testutil.NewJSONRequest(t, method, path, body)
		req.Header.Set(admin.HeaderAdminToken, cfg.Server.AdminToken)
		req.Header.Set(admin.HeaderAdminActor, "case-officer-7")
		return testutil.DoRequest(app.router, req)
	}

	var (
		clientID    = "northbet"
		apiKey      string
		tokenValue  string
		exclusionID string
		bearer      string
	)

	testutil.Given(t, "a licensed operator", func(t *testing.T) {
		rec := asAdmin(t, http.MethodPost, "/admin/operators", map[string]any{
			"name":           "North Bet",
			"license_number": "LIC-0042",
			"endpoint":       endpoint.URL,
			"client_id":      clientID,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		reg := testutil.DecodeJSON[struct {
			Operator struct {
				ID string `json:"id"`
			} `json:"operator"`
			APIKey         string `json:"api_key"`
			DeliverySecret string `json:"delivery_secret"`
		}](t, rec)
		apiKey = reg.APIKey
		op.mu.Lock()
		op.operatorID, op.secret = reg.Operator.ID, reg.DeliverySecret
		op.mu.Unlock()
	})

	testutil.Given(t, "a person with a token", func(t *testing.T) {
		rec := asAdmin(t, http.MethodPost, "/admin/tokens", map[string]string{"owner_ref": "citizen:1985-0001"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		tokenValue = testutil.DecodeJSON[map[string]any](t, rec)["value"].(string)
	})

	testutil.When(t, "a one year exclusion is registered", func(t *testing.T) {
		rec := asAdmin(t, http.MethodPost, "/admin/exclusions", map[string]string{
			"owner_ref": "citizen:1985-0001",
			"period":    "1_year",
			"reason":    "self requested at counter",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := testutil.DecodeJSON[map[string]any](t, rec)
		exclusionID = body["id"].(string)
		assert.Equal(t, true, body["is_active"])
	})

	testutil.Then(t, "the operator receives one signed notice and compliance completes", func(t *testing.T) {
		require.Eventually(t, func() bool {
			rec := asAdmin(t, http.MethodGet, "/admin/exclusions/"+exclusionID+"/compliance", nil)
			if rec.Code != http.StatusOK {
				return false
			}
			return testutil.DecodeJSON[map[string]any](t, rec)["status"] == "completed"
		}, 5*time.Second, 20*time.Millisecond)

		keys := op.received()
		require.Len(t, keys, 1)
		assert.Contains(t, keys[0], exclusionID)
		assert.Zero(t, op.badSigs)
	})

	testutil.Then(t, "the operator can look the person up", func(t *testing.T) {
		rec := testutil.DoRequest(app.router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/operators/token", map[string]string{
			"grant_type": "client_credentials",
			"client_id":  clientID,
			"api_key":    apiKey,
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		bearer = testutil.DecodeJSON[map[string]any](t, rec)["access_token"].(string)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/lookup", map[string]string{"token_value": tokenValue})
		req.Header.Set("Authorization", "Bearer "+bearer)
		rec = testutil.DoRequest(app.router, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := testutil.DecodeJSON[map[string]any](t, rec)
		assert.Equal(t, true, result["is_excluded"])
		assert.Equal(t, true, result["valid"])
		assert.Equal(t, "1_year", result["period"])
	})

	testutil.Then(t, "the audit trail names the case officer", func(t *testing.T) {
		rec := asAdmin(t, http.MethodGet, "/admin/audit?entity_type=exclusion&entity_id="+exclusionID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := testutil.DecodeJSON[struct {
			Entries []struct {
				Action string `json:"action"`
				Actor  string `json:"actor"`
			} `json:"entries"`
		}](t, rec)
		require.NotEmpty(t, body.Entries)
		assert.Equal(t, "admin:case-officer-7", body.Entries[0].Actor)
	})
}
