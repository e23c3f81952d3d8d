package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType classifies generation backend failures.
type ErrorType string

const (
	ErrorTypeEndpoint ErrorType = "endpoint" // unreachable, timed out, or 5xx
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeResponse ErrorType = "response" // empty or unparseable completion
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error is a classified backend failure. The SQL generator logs Type and
// Retryable and reports Message as part of the attempt's generation_error.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // 0 when the cause carried no HTTP status
	Model      string // filled in by the client when known
	Endpoint   string
}

// Error renders "<type> [HTTP <code>] [model=<m>] <message>[: <cause>]".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable satisfies retry.RetryableError without the retry package importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{Type: errType, Message: message, Retryable: retryable, Cause: cause}
}

// NewErrorWithContext creates a classified error that names the model and endpoint.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	e := NewError(errType, message, retryable, cause)
	e.Model = model
	e.Endpoint = endpoint
	e.StatusCode = statusCode
	return e
}

// statusCodePattern finds the HTTP status codes the providers' SDKs embed in error text.
var statusCodePattern = regexp.MustCompile(`\b(400|401|403|404|429|500|502|503|504|529)\b`)

// classificationRule maps a provider error to a type. Rules are tried in order.
type classificationRule struct {
	errType   ErrorType
	message   string
	retryable bool
	matches   func(status int, lower string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var classificationRules = []classificationRule{
	{ErrorTypeAuth, "authentication failed", false, func(status int, lower string) bool {
		return status == 401 || containsAny(lower, "unauthorized", "invalid api key")
	}},
	{ErrorTypeModel, "model not found", false, func(_ int, lower string) bool {
		return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist")
	}},
	{ErrorTypeEndpoint, "endpoint not found", false, func(status int, _ string) bool {
		return status == 404
	}},
	{ErrorTypeEndpoint, "connection failed", true, func(_ int, lower string) bool {
		return containsAny(lower, "connection refused", "no such host")
	}},
	{ErrorTypeEndpoint, "request timeout", true, func(_ int, lower string) bool {
		return containsAny(lower, "timeout", "deadline exceeded", "context canceled")
	}},
	{ErrorTypeUnknown, "rate limited", true, func(status int, lower string) bool {
		return status == 429 || strings.Contains(lower, "rate limit")
	}},
	{ErrorTypeEndpoint, "provider overloaded", true, func(status int, lower string) bool {
		return status == 529 || strings.Contains(lower, "overloaded")
	}},
	{ErrorTypeEndpoint, "GPU error", true, func(_ int, lower string) bool {
		return containsAny(lower, "cuda error", "gpu error", "out of memory")
	}},
	{ErrorTypeEndpoint, "server error", true, func(status int, _ string) bool {
		return status >= 500 && status != 529
	}},
}

// ClassifyError returns err as an *Error. Errors that already are one (possibly
// wrapped) are returned as is; others are classified from their text.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	text := err.Error()
	status := 0
	if m := statusCodePattern.FindString(text); m != "" {
		status, _ = strconv.Atoi(m)
	}
	lower := strings.ToLower(text)

	classified := NewError(ErrorTypeUnknown, "llm error", false, err)
	for _, rule := range classificationRules {
		if rule.matches(status, lower) {
			classified = NewError(rule.errType, rule.message, rule.retryable, err)
			break
		}
	}
	classified.StatusCode = status
	return classified
}
