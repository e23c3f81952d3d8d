package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/logging"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	sqlpolicy "github.com/ekaya-inc/ekaya-ask/pkg/sql"
)

// DriverState is a state of the generate/execute retry loop.
type DriverState string

const (
	StateStart         DriverState = "START"
	StateGenerate      DriverState = "GENERATE"
	StateExecute       DriverState = "EXECUTE"
	StateExecuteError  DriverState = "EXECUTE_ERROR"
	StateRetryCheck    DriverState = "RETRY_CHECK"
	StateSuccess       DriverState = "SUCCESS"
	StateExhausted     DriverState = "EXHAUSTED"
	StateNonConvergent DriverState = "NON_CONVERGENT"
	StateDenied        DriverState = "DENIED"
	StateCancelled     DriverState = "CANCELLED"
)

// AuthorizationGate is consulted once before any generation.
type AuthorizationGate interface {
	IsValid(ctx context.Context) bool
}

// DriverInput carries the per-session immutable inputs. The session's
// Resolution must already be set; it is reused for every attempt.
type DriverInput struct {
	Session    *models.QuerySession
	Snapshot   *models.SchemaSnapshot
	Examples   []models.SimilarQuery
	GraphHints []models.RelationshipHint
}

// DriverResult is the terminal outcome of one session.
type DriverResult struct {
	Session       *models.QuerySession
	Result        *datasource.QueryExecutionResult // set on success only
	Explanation   string
	// ExecutionTime covers the successful statement's database round trip only.
	ExecutionTime time.Duration
	// Transitions lists every state entered, in order.
	Transitions []DriverState
	// Err is nil on success. Otherwise an *apperrors.Error of kind exhaustion,
	// non_convergence, authorization_denied, or cancelled.
	Err error
}

// RetryDriver runs the generate/execute loop for one session at a time.
// It holds no per-session state and is safe for concurrent use.
type RetryDriver struct {
	generator SQLGenerator
	executor  datasource.QueryExecutor
	builder   *ContextBuilder
	gate      AuthorizationGate
	rowLimit  int
	logger    *zap.Logger
}

// NewRetryDriver creates a driver. gate may be nil.
func NewRetryDriver(
	generator SQLGenerator,
	executor datasource.QueryExecutor,
	builder *ContextBuilder,
	gate AuthorizationGate,
	rowLimit int,
	logger *zap.Logger,
) *RetryDriver {
	return &RetryDriver{
		generator: generator,
		executor:  executor,
		builder:   builder,
		gate:      gate,
		rowLimit:  datasource.EffectiveLimit(rowLimit),
		logger:    logger.Named("retry-driver"),
	}
}

// Admit consults the authorization gate. It returns nil when the session may
// proceed, otherwise the terminal denied result with the session finished.
func (d *RetryDriver) Admit(ctx context.Context, session *models.QuerySession) *DriverResult {
	if d.gate == nil || d.gate.IsValid(ctx) {
		return nil
	}
	session.Finish(models.SessionStatusDenied)
	d.logger.Warn("Session denied by authorization gate", zap.String("session_id", session.ID.String()))
	return &DriverResult{
		Session:     session,
		Transitions: []DriverState{StateStart, StateDenied},
		Err:         apperrors.New(apperrors.KindAuthorizationDenied, "authorization check failed", apperrors.ErrAuthorizationDenied),
	}
}

// Run drives the session to a terminal status. The session's attempt list is
// the only state carried between iterations.
func (d *RetryDriver) Run(ctx context.Context, in DriverInput) *DriverResult {
	session := in.Session
	res := &DriverResult{Session: session}
	enter := func(s DriverState) { res.Transitions = append(res.Transitions, s) }

	log := d.logger.With(zap.String("session_id", session.ID.String()))

	if denied := d.Admit(ctx, session); denied != nil {
		return denied
	}
	enter(StateStart)

	for {
		if err := ctx.Err(); err != nil {
			return d.cancel(res, err, log)
		}

		enter(StateGenerate)
		gctx := d.builder.Build(ContextInput{
			Question:   session.Question,
			History:    session.ConversationHistory,
			Snapshot:   in.Snapshot,
			Resolution: session.Resolution,
			Examples:   in.Examples,
			GraphHints: in.GraphHints,
			Attempts:   session.FailedAttempts(),
			Dialect:    d.executor.Dialect(),
		})

		started := time.Now()
		generated, err := d.generator.Generate(ctx, gctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.cancel(res, ctxErr, log)
			}
			attempt := session.AppendAttempt(models.RetryAttempt{
				Err:       asKind(err, apperrors.KindGeneration),
				Timestamp: started,
				Duration:  time.Since(started),
			})
			d.logAttempt(log, attempt, StateGenerate)
		} else if prior, repeated := findRepeat(session, generated.SQL); repeated {
			attempt := session.AppendAttempt(models.RetryAttempt{
				SQL:         generated.SQL,
				Explanation: generated.Explanation,
				Err: apperrors.New(apperrors.KindNonConvergence,
					fmt.Sprintf("generator repeated the failing SQL of attempt %d", prior.Index), prior.Err),
				Timestamp: started,
				Duration:  time.Since(started),
			})
			d.logAttempt(log, attempt, StateNonConvergent)
			enter(StateNonConvergent)
			session.Finish(models.SessionStatusNonConvergent)
			res.Err = attempt.Err
			return res
		} else {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return d.cancel(res, ctxErr, log)
			}
			enter(StateExecute)
			executeStarted := time.Now()
			result, err := d.execute(ctx, generated.SQL)
			executionTime := time.Since(executeStarted)
			if err == nil {
				attempt := session.AppendAttempt(models.RetryAttempt{
					SQL:         generated.SQL,
					Explanation: generated.Explanation,
					Timestamp:   started,
					Duration:    time.Since(started),
				})
				enter(StateSuccess)
				session.Finish(models.SessionStatusSucceeded)
				res.Result = result
				res.Explanation = generated.Explanation
				res.ExecutionTime = executionTime
				log.Info("Session succeeded",
					zap.Int("attempt", attempt.Index),
					zap.Int("rows", result.RowCount),
					zap.String("sql", logging.TruncateSQL(attempt.SQL, 0)))
				return res
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				session.AppendAttempt(models.RetryAttempt{
					SQL:       generated.SQL,
					Err:       apperrors.New(apperrors.KindCancelled, "statement cancelled", ctxErr),
					Timestamp: started,
					Duration:  time.Since(started),
				})
				return d.cancel(res, ctxErr, log)
			}
			enter(StateExecuteError)
			attempt := session.AppendAttempt(models.RetryAttempt{
				SQL:         generated.SQL,
				Explanation: generated.Explanation,
				Err:         asKind(err, apperrors.KindExecution),
				Timestamp:   started,
				Duration:    time.Since(started),
			})
			d.logAttempt(log, attempt, StateExecuteError)
		}

		enter(StateRetryCheck)
		if len(session.Attempts) >= session.MaxAttempts() {
			last, _ := session.LastAttempt()
			enter(StateExhausted)
			session.Finish(models.SessionStatusExhausted)
			res.Err = apperrors.New(apperrors.KindExhaustion,
				fmt.Sprintf("retry budget exhausted after %d attempts", len(session.Attempts)), last.Err)
			log.Warn("Session exhausted retry budget",
				zap.Int("attempts", len(session.Attempts)),
				zap.String("last_error", last.ErrorMessage()))
			return res
		}
	}
}

// execute enforces the read-only policy and runs the statement. Errors are
// returned as *apperrors.Error of kind policy_violation or execution_error.
func (d *RetryDriver) execute(ctx context.Context, generatedSQL string) (*datasource.QueryExecutionResult, error) {
	normalized, err := sqlpolicy.CheckReadOnly(generatedSQL)
	if err != nil {
		return nil, apperrors.New(apperrors.KindPolicyViolation, err.Error(), err)
	}

	result, err := d.executor.Query(ctx, normalized, d.rowLimit)
	if err != nil {
		return nil, apperrors.New(apperrors.KindExecution, "", err)
	}
	return result, nil
}

func (d *RetryDriver) cancel(res *DriverResult, cause error, log *zap.Logger) *DriverResult {
	res.Transitions = append(res.Transitions, StateCancelled)
	res.Session.Finish(models.SessionStatusCancelled)
	res.Err = apperrors.New(apperrors.KindCancelled, "session cancelled", cause)
	log.Info("Session cancelled",
		zap.Int("attempts", len(res.Session.Attempts)),
		zap.Error(cause))
	return res
}

func (d *RetryDriver) logAttempt(log *zap.Logger, a models.RetryAttempt, state DriverState) {
	log.Warn("Attempt failed",
		zap.Int("attempt", a.Index),
		zap.String("state", string(state)),
		zap.String("kind", string(a.ErrorKind())),
		zap.String("sql", logging.TruncateSQL(a.SQL, 0)),
		zap.String("error", logging.SanitizeError(a.Err)))
}

// findRepeat returns the earlier failed attempt whose normalized SQL equals sqlText.
func findRepeat(session *models.QuerySession, sqlText string) (models.RetryAttempt, bool) {
	for _, a := range session.Attempts {
		if a.Failed() && sqlpolicy.Equivalent(a.SQL, sqlText) {
			return a, true
		}
	}
	return models.RetryAttempt{}, false
}

// asKind returns err as an *apperrors.Error, wrapping it with kind when it is not one.
func asKind(err error, kind apperrors.Kind) *apperrors.Error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.New(kind, "", err)
}
