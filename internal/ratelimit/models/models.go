package models

import (
	"time"

	dErrors "watchtower/pkg/domain-errors"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassSessionControl covers session start, stop and target changes.
	ClassSessionControl EndpointClass = "session_control"
	// ClassRealtime covers websocket handshakes, keyed by client IP.
	ClassRealtime EndpointClass = "realtime"
	// ClassRead covers the remaining authenticated API.
	ClassRead EndpointClass = "read"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassSessionControl, ClassRealtime, ClassRead:
		return true
	}
	return false
}

// Policy allows Limit requests per sliding Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "rate limit must be positive")
	}
	if p.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "rate limit window must be positive")
	}
	return nil
}

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a denied caller may retry.
	RetryAfter int
}

// RetryAfterSeconds rounds up so a client never retries a moment too early.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Key builds a bucket key scoped to one class and subject.
func Key(class EndpointClass, kind, subject string) string {
	return "rl:" + string(class) + ":" + kind + ":" + subject
}
