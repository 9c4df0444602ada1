package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoResponse is returned when the model finishes a turn without
// producing any text. Callers substitute their own fallback reply.
var ErrNoResponse = errors.New("model produced no response")

// ErrUnknownAgent is returned when a transfer names an agent that is not
// a sub-agent of the current one.
var ErrUnknownAgent = errors.New("unknown agent")

// TransientError marks a provider failure worth retrying: server errors,
// service unavailability and transport faults. Anything not wrapped in it
// is treated as permanent and surfaced after a single attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// QuotaViolation identifies one exceeded quota metric.
type QuotaViolation struct {
	Model  string `json:"model,omitempty"`
	Metric string `json:"metric,omitempty"`
	Limit  string `json:"limit,omitempty"`
}

// QuotaError is returned when the provider rejects a request for quota
// exhaustion (HTTP 429). It is never retried: the quota window is long
// relative to any sensible backoff, so the failure goes straight to the
// user with whatever detail the provider supplied.
type QuotaError struct {
	Provider   string
	Model      string
	Violations []QuotaViolation
	RetryAfter time.Duration
	Message    string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: quota exhausted for model %s: %s", e.Provider, e.Model, e.Message)
}

// IsQuota reports whether err is a quota exhaustion failure.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// UserMessage renders the quota failure for end users, including the
// exceeded metrics and the provider's suggested retry delay when known.
func (e *QuotaError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Quota exhausted for model ")
	b.WriteString(e.Model)
	for _, v := range e.Violations {
		b.WriteString(fmt.Sprintf(" (metric %s, limit %s)", v.Metric, v.Limit))
	}
	b.WriteString(".")
	if e.RetryAfter > 0 {
		b.WriteString(fmt.Sprintf(" Retry after %s.", e.RetryAfter))
	}
	return b.String()
}

// TurnError wraps a failure inside a conversational turn with the agent
// that was running when it happened.
type TurnError struct {
	Agent string
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("agent %s: turn failed: %v", e.Agent, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }
