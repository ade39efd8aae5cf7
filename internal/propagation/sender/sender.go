// Package sender delivers signed exclusion notices to operator endpoints.
package sender

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	opmodels "nser/internal/operator/models"
	"nser/internal/propagation/models"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderSignature      = "X-Register-Signature"

	defaultSignatureTTL = 5 * time.Minute
	maxResponseBytes    = 4 << 10
)

// Category classifies a failed delivery.
type Category string

const (
	CategoryTimeout     Category = "timeout"
	CategoryConnection  Category = "connection"
	CategoryServerError Category = "server_error"
	CategoryRejected    Category = "rejected"
	CategoryBadResponse Category = "bad_response"
)

// DeliveryError describes why an operator did not acknowledge a notice.
type DeliveryError struct {
	Category   Category
	OperatorID string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery to operator %s failed: %s", e.OperatorID, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SignatureClaims bind the signature to one operator and one exact body.
type SignatureClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// HTTP posts notices as JSON. The caller bounds each attempt with its
// context deadline.
type HTTP struct {
	client       *http.Client
	issuer       string
	signatureTTL time.Duration
	now          func() time.Time
}

type Option func(*HTTP)

func WithClient(c *http.Client) Option {
	return func(h *HTTP) {
		h.client = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *HTTP) {
		h.now = now
	}
}

func NewHTTP(issuer string, opts ...Option) *HTTP {
	h := &HTTP{
		client:       &http.Client{},
		issuer:       issuer,
		signatureTTL: defaultSignatureTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send delivers n to op. Any 2xx is an acknowledgement unless the body
// explicitly says {"ack": false}.
func (h *HTTP) Send(ctx context.Context, op *opmodels.Operator, n models.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return &DeliveryError{Category: CategoryBadResponse, OperatorID: op.ID.String(), Err: err}
	}
	signature, err := h.sign(op, n, body)
	if err != nil {
		return &DeliveryError{Category: CategoryRejected, OperatorID: op.ID.String(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, op.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Category: CategoryRejected, OperatorID: op.ID.String(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nser-propagation/1")
	req.Header.Set(HeaderIdempotencyKey, n.IdempotencyKey())
	req.Header.Set(HeaderSignature, signature)

	resp, err := h.client.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return checkAckBody(op, resp.StatusCode, raw)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &DeliveryError{Category: CategoryServerError, OperatorID: op.ID.String(), StatusCode: resp.StatusCode, Retryable: true}
	default:
		return &DeliveryError{Category: CategoryRejected, OperatorID: op.ID.String(), StatusCode: resp.StatusCode}
	}
}

func (h *HTTP) sign(op *opmodels.Operator, n models.Notice, body []byte) (string, error) {
	sum := sha256.Sum256(body)
	now := h.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SignatureClaims{
		BodySHA256: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    h.issuer,
			Audience:  []string{op.ID.String()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.signatureTTL)),
			ID:        n.IdempotencyKey(),
		},
	})
	return token.SignedString([]byte(op.DeliverySecret))
}

func checkAckBody(op *opmodels.Operator, status int, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var ack struct {
		Ack *bool `json:"ack"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Ack == nil || *ack.Ack {
		return nil
	}
	return &DeliveryError{
		Category:   CategoryBadResponse,
		OperatorID: op.ID.String(),
		StatusCode: status,
		Retryable:  true,
		Err:        errors.New("operator answered ack=false"),
	}
}

func classifyTransportError(op *opmodels.Operator, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &DeliveryError{Category: CategoryTimeout, OperatorID: op.ID.String(), Retryable: true, Err: err}
	}
	return &DeliveryError{Category: CategoryConnection, OperatorID: op.ID.String(), Retryable: true, Err: err}
}

// VerifySignature checks a signature as a receiving operator would.
func VerifySignature(signature, secret, operatorID string, body []byte) (*SignatureClaims, error) {
	parsed, err := jwt.ParseWithClaims(signature, &SignatureClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(secret), nil
	}, jwt.WithAudience(operatorID), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SignatureClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	sum := sha256.Sum256(body)
	if claims.BodySHA256 != hex.EncodeToString(sum[:]) {
		return nil, errors.New("body digest mismatch")
	}
	return claims, nil
}
