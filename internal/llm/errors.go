package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AuthError indicates the credential itself is rejected (401/403, invalid
// API key). The owning key is disabled permanently by the pool; it is
// never retried automatically.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("llm: auth error: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimited indicates a 429 with headroom to recover; the owning key is
// put on cooldown rather than disabled.
type RateLimited struct {
	Err        error
	RetryAfter string // retryDelay seconds taken from the error body, if present
}

func (e *RateLimited) Error() string { return fmt.Sprintf("llm: rate limited: %v", e.Err) }
func (e *RateLimited) Unwrap() error { return e.Err }

// QuotaExceeded indicates the account-level quota is exhausted, distinct
// from a transient per-minute rate limit. Treated the same as RateLimited
// by the pool (cooldown), but reported separately for operator visibility.
type QuotaExceeded struct{ Err error }

func (e *QuotaExceeded) Error() string { return fmt.Sprintf("llm: quota exceeded: %v", e.Err) }
func (e *QuotaExceeded) Unwrap() error { return e.Err }

// Transient5xx indicates a server-side error likely to succeed on retry
// with a different key or after a short wait. Does not affect the key's
// cooldown state.
type Transient5xx struct {
	Err        error
	StatusCode int
}

func (e *Transient5xx) Error() string {
	return fmt.Sprintf("llm: transient server error (%d): %v", e.StatusCode, e.Err)
}
func (e *Transient5xx) Unwrap() error { return e.Err }

// ParseError indicates the response envelope failed strict validation:
// malformed JSON, wrong item count, or an id mismatch. Never partially
// trusted — the whole batch is treated as failed.
type ParseError struct{ Err error }

func (e *ParseError) Error() string { return fmt.Sprintf("llm: parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Timeout indicates the call exceeded LLM_TIMEOUT or the context deadline.
type Timeout struct{ Err error }

func (e *Timeout) Error() string { return fmt.Sprintf("llm: timeout: %v", e.Err) }
func (e *Timeout) Unwrap() error { return e.Err }

// classifyHTTPError maps a raw transport error and HTTP status code to one
// of the typed errors above. status is 0 when no HTTP response was
// received (network-level failure, classified as Transient5xx so the
// Worker Pool retries rather than discards).
func classifyHTTPError(status int, body string, err error) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Err: err}
	case status == 429:
		if isQuotaBody(body) {
			return &QuotaExceeded{Err: err}
		}
		return &RateLimited{Err: err, RetryAfter: extractRetryDelay(body)}
	case status >= 500 || status == 0:
		return &Transient5xx{Err: err, StatusCode: status}
	default:
		return &ParseError{Err: fmt.Errorf("unexpected status %d: %w", status, err)}
	}
}

// isQuotaBody distinguishes a quota-exhaustion 429 from an ordinary
// rate-limit 429. The provider's quota-exhaustion bodies mention both
// words together; a bare "quota" or "resource_exhausted" mention alone
// also shows up in ordinary per-minute rate-limit bodies.
func isQuotaBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota") && strings.Contains(lower, "exceeded")
}

// retryDelayRE matches the RetryInfo detail Google APIs embed in 429/5xx
// error bodies, e.g. `"retryDelay":"34s"`.
var retryDelayRE = regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+)s"`)

// extractRetryDelay pulls the retryDelay seconds value out of a raw error
// body, if present. Returns "" when the body carries no such hint.
func extractRetryDelay(body string) string {
	m := retryDelayRE.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsAuth reports whether err (or any error it wraps) is an AuthError.
func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsRateLimited reports whether err (or any error it wraps) is a
// RateLimited or QuotaExceeded error — both put the owning key on
// cooldown.
func IsRateLimited(err error) bool {
	var rl *RateLimited
	var qe *QuotaExceeded
	return errors.As(err, &rl) || errors.As(err, &qe)
}

// IsTransient reports whether err is retriable without changing key state:
// Transient5xx or Timeout.
func IsTransient(err error) bool {
	var t5 *Transient5xx
	var to *Timeout
	return errors.As(err, &t5) || errors.As(err, &to)
}

// parseRetryAfterSeconds parses a RateLimited.RetryAfter value (a whole
// number of seconds). Returns 0 if absent, negative, or non-numeric.
func parseRetryAfterSeconds(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
