package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nser/internal/operator/models"
	id "nser/pkg/domain"
	dErrors "nser/pkg/domain-errors"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	tokenTypeBearer       = "Bearer"
)

// Claims are the operator access token claims. Subject is the operator id.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

func (c *Claims) OperatorID() (id.OperatorID, error) {
	operatorID, err := id.ParseOperatorID(c.Subject)
	if err != nil {
		return id.OperatorID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	return operatorID, nil
}

// AccessToken is the client-credentials response.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessTokens signs and validates HS256 operator bearer tokens.
type AccessTokens struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

func NewAccessTokens(signingKey, issuer, audience string, ttl time.Duration) *AccessTokens {
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	return &AccessTokens{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

func (a *AccessTokens) Issue(op *models.Operator, now time.Time) (*AccessToken, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: op.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID.String(),
			Issuer:    a.issuer,
			Audience:  []string{a.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access token")
	}
	return &AccessToken{
		AccessToken: signed,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int(a.ttl.Seconds()),
	}, nil
}

func (a *AccessTokens) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
