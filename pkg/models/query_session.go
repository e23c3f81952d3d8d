package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
)

// SessionStatus is the terminal status of a query session.
type SessionStatus string

const (
	SessionStatusRunning       SessionStatus = "running"
	SessionStatusSucceeded     SessionStatus = "succeeded"
	SessionStatusExhausted     SessionStatus = "exhausted"
	SessionStatusNonConvergent SessionStatus = "non_convergent"
	SessionStatusDenied        SessionStatus = "denied"
	SessionStatusCancelled     SessionStatus = "cancelled"
)

// IsTerminal reports whether no further attempts may be made.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusRunning && s != ""
}

// ConversationTurn is one prior exchange supplied by the caller.
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// RetryAttempt is one generate+execute cycle.
type RetryAttempt struct {
	Index       int              `json:"attempt"`
	SQL         string           `json:"sql"`
	Explanation string           `json:"explanation,omitempty"`
	Err         *apperrors.Error `json:"-"`
	Timestamp   time.Time        `json:"timestamp"`
	Duration    time.Duration    `json:"duration_ns"`
}

// Failed reports whether the attempt ended with an error.
func (a RetryAttempt) Failed() bool {
	return a.Err != nil
}

// ErrorMessage returns the error detail or "" when the attempt succeeded.
func (a RetryAttempt) ErrorMessage() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Detail()
}

// ErrorKind returns the error kind or "" when the attempt succeeded.
func (a RetryAttempt) ErrorKind() apperrors.Kind {
	if a.Err == nil {
		return ""
	}
	return a.Err.Kind
}

// QuerySession tracks one incoming question through resolution and the retry loop.
// A session is owned by a single goroutine; Attempts is append-only.
type QuerySession struct {
	ID                  uuid.UUID          `json:"id"`
	Question            string             `json:"question"`
	ConversationHistory []ConversationTurn `json:"conversation_history,omitempty"`
	SchemaName          string             `json:"schema_name"`
	MaxRetries          int                `json:"max_retries"`
	Resolution          *Resolution        `json:"resolution,omitempty"`
	Attempts            []RetryAttempt     `json:"attempts"`
	Status              SessionStatus      `json:"status"`
	CreatedAt           time.Time          `json:"created_at"`
	FinishedAt          *time.Time         `json:"finished_at,omitempty"`
}

// NewQuerySession creates a running session for a question.
func NewQuerySession(question string, history []ConversationTurn, schemaName string, maxRetries int) *QuerySession {
	return &QuerySession{
		ID:                  uuid.New(),
		Question:            strings.TrimSpace(question),
		ConversationHistory: history,
		SchemaName:          schemaName,
		MaxRetries:          maxRetries,
		Status:              SessionStatusRunning,
		CreatedAt:           time.Now(),
	}
}

// MaxAttempts is the total generate/execute budget: max_retries + 1.
func (s *QuerySession) MaxAttempts() int {
	return s.MaxRetries + 1
}

// AppendAttempt records an attempt, assigning its 1-based index.
func (s *QuerySession) AppendAttempt(a RetryAttempt) RetryAttempt {
	a.Index = len(s.Attempts) + 1
	s.Attempts = append(s.Attempts, a)
	return a
}

// FailedAttempts returns all failed attempts in order.
func (s *QuerySession) FailedAttempts() []RetryAttempt {
	var failed []RetryAttempt
	for _, a := range s.Attempts {
		if a.Failed() {
			failed = append(failed, a)
		}
	}
	return failed
}

// LastAttempt returns the most recent attempt, if any.
func (s *QuerySession) LastAttempt() (RetryAttempt, bool) {
	if len(s.Attempts) == 0 {
		return RetryAttempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}

// Finish sets the terminal status.
func (s *QuerySession) Finish(status SessionStatus) {
	now := time.Now()
	s.Status = status
	s.FinishedAt = &now
}

// RetryCount follows the response contract: attempts-1 on success, attempts otherwise.
func (s *QuerySession) RetryCount() int {
	if s.Status == SessionStatusSucceeded {
		return len(s.Attempts) - 1
	}
	return len(s.Attempts)
}
