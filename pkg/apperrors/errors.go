package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidQuestion        = errors.New("question is required")
	ErrAuthorizationDenied    = errors.New("authorization denied")
	ErrOntologyDisabled       = errors.New("ontology is disabled")
	ErrUnsupportedDatasource  = errors.New("unsupported datasource type")
	ErrSchemaProviderNotReady = errors.New("schema provider not configured")
)

// Kind classifies failures raised while turning a question into executed SQL.
type Kind string

const (
	// KindResolutionWarning means no (or only low-confidence) ontology mapping was found.
	// Non-fatal: generation proceeds on raw schema context.
	KindResolutionWarning Kind = "resolution_warning"
	// KindGeneration means the SQL backend failed or returned malformed output. Retryable.
	KindGeneration Kind = "generation_error"
	// KindExecution means the database rejected the SQL. Retryable; the message is kept verbatim.
	KindExecution Kind = "execution_error"
	// KindPolicyViolation means the SQL was rejected before execution (read-only enforcement). Retryable.
	KindPolicyViolation Kind = "policy_violation"
	// KindNonConvergence means the generator repeated a failing statement. Fatal.
	KindNonConvergence Kind = "non_convergence"
	// KindExhaustion means the retry budget was consumed. Fatal.
	KindExhaustion Kind = "exhaustion"
	// KindAuthorizationDenied pre-empts the pipeline and is never counted against retries.
	KindAuthorizationDenied Kind = "authorization_denied"
	// KindCancelled means the caller cancelled the session.
	KindCancelled Kind = "cancelled"
)

// Retryable reports whether failures of this kind are absorbed by the retry loop.
func (k Kind) Retryable() bool {
	switch k {
	case KindGeneration, KindExecution, KindPolicyViolation:
		return true
	default:
		return false
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Kind.Retryable()
}

// Detail returns the message shown to the generator and the caller.
// Execution errors keep the database message verbatim.
func (e *Error) Detail() string {
	if e.Kind == KindExecution && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// New creates a classified error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
