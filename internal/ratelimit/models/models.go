package models

import "time"

// Policy is a sliding-window limit: at most Limit requests per Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// Scope names what a bucket key counts.
type Scope string

const (
	ScopeOperator Scope = "operator"
	ScopeClientIP Scope = "client_ip"
)

// Key builds the bucket key for subject within scope.
func Key(scope Scope, subject string) string {
	return "rl:" + string(scope) + ":" + subject
}
