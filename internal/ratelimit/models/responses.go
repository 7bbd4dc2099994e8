package models

import "time"

const (
	ErrorRateLimited     = "rate_limit_exceeded"
	ErrorUserRateLimited = "user_rate_limit_exceeded"
)

// ExceededResponse is the 429 body. Error and ErrorDescription line up with
// the envelope written by httputil.WriteError so clients parse one shape.
type ExceededResponse struct {
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
	Class            EndpointClass `json:"class"`
	Limit            int           `json:"limit"`
	ResetAt          time.Time     `json:"reset_at"`
	RetryAfter       int           `json:"retry_after"`
}

func NewExceededResponse(code string, class EndpointClass, result *RateLimitResult) *ExceededResponse {
	desc := "too many requests from this address, retry later"
	if code == ErrorUserRateLimited {
		desc = "request budget for this operation is used up, retry later"
	}
	return &ExceededResponse{
		Error:            code,
		ErrorDescription: desc,
		Class:            class,
		Limit:            result.Limit,
		ResetAt:          result.ResetAt,
		RetryAfter:       result.RetryAfter,
	}
}
