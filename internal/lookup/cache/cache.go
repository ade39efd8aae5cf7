// Package cache is the short-lived read cache in front of the token and
// exclusion stores. Entries are opaque bytes tagged with the token ids they
// were derived from; every mutation of a token or exclusion invalidates its
// token tag so no entry outlives the state it describes.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	id "nser/pkg/domain"
)

// MaxTTL bounds every entry. Staleness has compliance consequences, so
// callers cannot configure longer lifetimes.
const MaxTTL = 60 * time.Second

// Cache stores tagged, expiring entries.
//
// Read-through callers take a Generation before loading from the store and
// write with SetIfCurrent, so a load that raced an invalidation is dropped
// instead of cached.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	InvalidateTag(ctx context.Context, tag string) error
	Generation(ctx context.Context) (Generation, error)
	SetIfCurrent(ctx context.Context, gen Generation, key string, value []byte, ttl time.Duration, tags ...string) (bool, error)
}

// Generation is an invalidation epoch: one counter per cache layer,
// outermost first. Every InvalidateTag advances it. An empty Generation
// never matches.
type Generation []uint64

// String renders the generation for use in keys.
func (g Generation) String() string {
	var b strings.Builder
	for i, n := range g {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(n, 10))
	}
	return b.String()
}

// TokenTag is the invalidation tag for everything derived from a token.
func TokenTag(tokenID id.TokenID) string {
	return "token:" + tokenID.String()
}

// ClampTTL returns ttl bounded to (0, MaxTTL].
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

// IdentifierTag is the invalidation tag for lookups made by a hashed
// secondary identifier.
func IdentifierTag(identifierType, hash string) string {
	return "identifier:" + identifierType + ":" + hash
}
