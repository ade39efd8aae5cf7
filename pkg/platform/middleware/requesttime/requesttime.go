// Package requesttime pins one "now" per request so the state transition, its
// audit entry and its propagation payload all carry the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"nser/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
