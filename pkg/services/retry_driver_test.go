package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/llm"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// failFirst makes the executor fail its first n calls with the given messages.
func failFirst(messages ...string) func(context.Context, string, int) (*datasource.QueryExecutionResult, error) {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= len(messages) {
			return nil, errors.New(messages[calls-1])
		}
		return vendorRows(), nil
	}
}

func alwaysFail(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
	return nil, fmt.Errorf("ERROR: relation does not exist: %s", sqlQuery)
}

func TestRetryDriver_SucceedsFirstAttempt(t *testing.T) {
	f := scripted("SELECT DISTINCT vendorgroup FROM purchase_order;")

	res := f.run(context.Background(), "Show unique vendor names", 3)

	require.NoError(t, res.Err)
	assert.Equal(t, models.SessionStatusSucceeded, res.Session.Status)
	assert.Len(t, res.Session.Attempts, 1)
	assert.Equal(t, 0, res.Session.RetryCount())
	assert.Equal(t, []DriverState{StateStart, StateGenerate, StateExecute, StateSuccess}, res.Transitions)
	assert.Equal(t, 2, res.Result.RowCount)
	assert.Equal(t, "explains SELECT DISTINCT vendorgroup FROM purchase_order;", res.Explanation)

	// The executor receives the policy-normalized statement and the row limit.
	assert.Equal(t, []string{"SELECT DISTINCT vendorgroup FROM purchase_order"}, f.executor.queries)
	assert.Equal(t, []int{100}, f.executor.limits)
	assert.Equal(t, int32(1), f.gate.calls.Load())
}

func TestRetryDriver_RecoversAfterThreeFailures(t *testing.T) {
	f := scripted(
		"SELECT vendor_nme FROM purchase_order",
		"SELECT vendorgroup FROM purchase_orders",
		"SELECT vendorgroup FROM purchase_order WHERE total > 'x'",
		"SELECT DISTINCT vendorgroup FROM purchase_order",
	)
	f.executor.QueryFunc = failFirst(
		`ERROR: column "vendor_nme" does not exist (SQLSTATE 42703)`,
		`ERROR: relation "purchase_orders" does not exist (SQLSTATE 42P01)`,
		`ERROR: invalid input syntax for type numeric: "x" (SQLSTATE 22P02)`,
	)

	res := f.run(context.Background(), "Show unique vendor names", 3)

	require.NoError(t, res.Err)
	session := res.Session
	assert.Equal(t, models.SessionStatusSucceeded, session.Status)
	assert.Len(t, session.Attempts, 4)
	assert.Equal(t, 3, session.RetryCount())
	require.Len(t, session.FailedAttempts(), 3)
	for i, a := range session.FailedAttempts() {
		assert.Equal(t, i+1, a.Index)
		assert.Equal(t, apperrors.KindExecution, a.ErrorKind())
	}
	assert.Equal(t, `ERROR: invalid input syntax for type numeric: "x" (SQLSTATE 22P02)`, session.Attempts[2].ErrorMessage())

	assert.Equal(t, 4, f.client.Calls())
	assert.Equal(t, 4, f.executor.Calls())
	assert.Equal(t, []DriverState{
		StateStart,
		StateGenerate, StateExecute, StateExecuteError, StateRetryCheck,
		StateGenerate, StateExecute, StateExecuteError, StateRetryCheck,
		StateGenerate, StateExecute, StateExecuteError, StateRetryCheck,
		StateGenerate, StateExecute, StateSuccess,
	}, res.Transitions)

	// The final prompt carries every earlier failure, the latest verbatim.
	prompt := f.client.LastPrompt()
	assert.Contains(t, prompt, "## Previous Failed Attempts")
	assert.Contains(t, prompt, "SELECT vendor_nme FROM purchase_order")
	assert.Contains(t, prompt, `ERROR: invalid input syntax for type numeric: "x" (SQLSTATE 22P02)`)
}

func TestRetryDriver_StopsOnRepeatedSQL(t *testing.T) {
	tests := []struct {
		name   string
		second string
	}{
		{"identical", "SELECT vendor_nme FROM purchase_order"},
		{"case and whitespace differ", "select   VENDOR_NME\n from purchase_order ;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := scripted("SELECT vendor_nme FROM purchase_order", tt.second, "SELECT vendorgroup FROM purchase_order")
			f.executor.QueryFunc = alwaysFail

			res := f.run(context.Background(), "Show unique vendor names", 2)

			assert.Equal(t, models.SessionStatusNonConvergent, res.Session.Status)
			assert.True(t, apperrors.IsKind(res.Err, apperrors.KindNonConvergence))
			require.Len(t, res.Session.Attempts, 2)
			assert.Equal(t, apperrors.KindNonConvergence, res.Session.Attempts[1].ErrorKind())
			assert.Equal(t, "generator repeated the failing SQL of attempt 1", res.Session.Attempts[1].ErrorMessage())
			assert.Equal(t, 2, res.Session.RetryCount())

			// The repeated statement is never executed and attempt 3 is never generated.
			assert.Equal(t, 1, f.executor.Calls())
			assert.Equal(t, 2, f.client.Calls())
			assert.Equal(t, StateNonConvergent, res.Transitions[len(res.Transitions)-1])
			assert.NotContains(t, res.Transitions[len(res.Transitions)-2:], StateExecute)
		})
	}
}

func TestRetryDriver_NonConvergenceAgainstAnyEarlierAttempt(t *testing.T) {
	f := scripted(
		"SELECT a FROM purchase_order",
		"SELECT b FROM purchase_order",
		"SELECT a FROM purchase_order",
	)
	f.executor.QueryFunc = alwaysFail

	res := f.run(context.Background(), "q", 5)

	assert.Equal(t, models.SessionStatusNonConvergent, res.Session.Status)
	assert.Len(t, res.Session.Attempts, 3)
	assert.Equal(t, 2, f.executor.Calls())
}

func TestRetryDriver_RejectsWritesBeforeExecution(t *testing.T) {
	t.Run("counted as an attempt without touching the database", func(t *testing.T) {
		f := scripted("DELETE FROM users", "SELECT DISTINCT vendorgroup FROM purchase_order")

		res := f.run(context.Background(), "remove all users", 1)

		require.NoError(t, res.Err)
		require.Len(t, res.Session.Attempts, 2)
		first := res.Session.Attempts[0]
		assert.Equal(t, apperrors.KindPolicyViolation, first.ErrorKind())
		assert.Contains(t, first.ErrorMessage(), "only read-only SELECT queries may run")
		assert.Equal(t, []string{"SELECT DISTINCT vendorgroup FROM purchase_order"}, f.executor.queries)
		assert.Equal(t, 1, res.Session.RetryCount())
	})

	t.Run("exhausts with no retries left", func(t *testing.T) {
		f := scripted("DELETE FROM users")

		res := f.run(context.Background(), "remove all users", 0)

		assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
		assert.Len(t, res.Session.Attempts, 1)
		assert.Equal(t, 0, f.executor.Calls())
	})

	for _, statement := range []string{
		"WITH c AS (SELECT id FROM stale) DELETE FROM users WHERE id IN (SELECT id FROM c)",
		"WITH c AS (SELECT 1) UPDATE users SET active = false",
		"SELECT * INTO users_backup FROM users",
	} {
		t.Run(statement, func(t *testing.T) {
			f := scripted(statement)

			res := f.run(context.Background(), "q", 0)

			require.Len(t, res.Session.Attempts, 1)
			assert.Equal(t, apperrors.KindPolicyViolation, res.Session.Attempts[0].ErrorKind())
			assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
			assert.Equal(t, 0, f.executor.Calls())
		})
	}

	t.Run("multiple statements", func(t *testing.T) {
		f := scripted("SELECT 1; DROP TABLE vendor")

		res := f.run(context.Background(), "q", 0)

		assert.Equal(t, apperrors.KindPolicyViolation, res.Session.Attempts[0].ErrorKind())
		assert.Equal(t, 0, f.executor.Calls())
	})
}

func TestRetryDriver_DeniedWithoutGenerating(t *testing.T) {
	f := scripted("SELECT 1")
	f.gate.valid = false

	res := f.run(context.Background(), "Show unique vendor names", 3)

	assert.Equal(t, models.SessionStatusDenied, res.Session.Status)
	assert.Empty(t, res.Session.Attempts)
	assert.Equal(t, 0, f.client.Calls())
	assert.Equal(t, 0, f.executor.Calls())
	assert.True(t, apperrors.IsKind(res.Err, apperrors.KindAuthorizationDenied))
	assert.ErrorIs(t, res.Err, apperrors.ErrAuthorizationDenied)
	assert.Equal(t, []DriverState{StateStart, StateDenied}, res.Transitions)
}

func TestRetryDriver_ExecutionTimeExcludesGeneration(t *testing.T) {
	const generationDelay = 80 * time.Millisecond
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*llm.GenerateResponseResult, error) {
		time.Sleep(generationDelay)
		return &llm.GenerateResponseResult{Content: sqlReply("SELECT DISTINCT vendorgroup FROM purchase_order")}, nil
	}
	f := newDriverFixture(client)

	res := f.run(context.Background(), "q", 0)

	require.NoError(t, res.Err)
	assert.Less(t, res.ExecutionTime, generationDelay)
	require.Len(t, res.Session.Attempts, 1)
	assert.GreaterOrEqual(t, res.Session.Attempts[0].Duration, generationDelay)
}

func TestRetryDriver_NilGateAdmits(t *testing.T) {
	client := llm.NewScriptedLLMClient(sqlReply("SELECT 1"))
	driver := NewRetryDriver(NewSQLGenerator(client, SQLGeneratorConfig{}, testLogger()), &mockExecutor{},
		NewContextBuilder(0, testLogger()), nil, 0, testLogger())

	session := models.NewQuerySession("q", nil, "public", 0)
	res := driver.Run(context.Background(), DriverInput{Session: session})

	require.NoError(t, res.Err)
	assert.Equal(t, models.SessionStatusSucceeded, session.Status)
}

func TestRetryDriver_Exhaustion(t *testing.T) {
	f := scripted("SELECT a FROM t", "SELECT b FROM t", "SELECT c FROM t")
	f.executor.QueryFunc = alwaysFail

	res := f.run(context.Background(), "q", 2)

	assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
	assert.Len(t, res.Session.Attempts, 3)
	assert.Equal(t, 3, res.Session.RetryCount())
	assert.True(t, apperrors.IsKind(res.Err, apperrors.KindExhaustion))
	assert.Contains(t, res.Err.Error(), "retry budget exhausted after 3 attempts")
	assert.Equal(t, StateExhausted, res.Transitions[len(res.Transitions)-1])
}

func TestRetryDriver_AttemptsNeverExceedBudget(t *testing.T) {
	for maxRetries := 0; maxRetries <= 5; maxRetries++ {
		t.Run(fmt.Sprintf("max_retries=%d", maxRetries), func(t *testing.T) {
			client := llm.NewMockLLMClient()
			client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*llm.GenerateResponseResult, error) {
				// A distinct statement each call so the loop never stops early.
				return &llm.GenerateResponseResult{Content: sqlReply(fmt.Sprintf("SELECT %d", client.Calls()))}, nil
			}
			f := newDriverFixture(client)
			f.executor.QueryFunc = alwaysFail

			res := f.run(context.Background(), "q", maxRetries)

			assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
			assert.Len(t, res.Session.Attempts, maxRetries+1)
			assert.Equal(t, maxRetries+1, client.Calls())
			assert.Equal(t, len(res.Session.Attempts), res.Session.RetryCount())
		})
	}
}

func TestRetryDriver_GenerationErrors(t *testing.T) {
	t.Run("malformed output is retried", func(t *testing.T) {
		client := llm.NewScriptedLLMClient("I am not sure which table you mean.", sqlReply("SELECT DISTINCT vendorgroup FROM purchase_order"))
		f := newDriverFixture(client)

		res := f.run(context.Background(), "q", 1)

		require.NoError(t, res.Err)
		first := res.Session.Attempts[0]
		assert.Equal(t, apperrors.KindGeneration, first.ErrorKind())
		assert.Equal(t, "malformed generator response", first.ErrorMessage())
		assert.Empty(t, first.SQL)
		assert.Equal(t, 1, f.executor.Calls())
		assert.Equal(t, []DriverState{
			StateStart,
			StateGenerate, StateRetryCheck,
			StateGenerate, StateExecute, StateSuccess,
		}, res.Transitions)
	})

	t.Run("backend failures exhaust the budget", func(t *testing.T) {
		client := llm.NewMockLLMClient()
		client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*llm.GenerateResponseResult, error) {
			return nil, errors.New("status code: 503, message: upstream unavailable")
		}
		f := newDriverFixture(client)

		res := f.run(context.Background(), "q", 2)

		assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
		require.Len(t, res.Session.Attempts, 3)
		for _, a := range res.Session.Attempts {
			assert.Equal(t, apperrors.KindGeneration, a.ErrorKind())
			assert.Contains(t, a.ErrorMessage(), "generation backend call failed")
		}
		assert.Equal(t, 0, f.executor.Calls())
	})

	t.Run("repeated generation failures are not non-convergence", func(t *testing.T) {
		f := newDriverFixture(llm.NewScriptedLLMClient("not json"))

		res := f.run(context.Background(), "q", 3)

		assert.Equal(t, models.SessionStatusExhausted, res.Session.Status)
		assert.Len(t, res.Session.Attempts, 4)
	})
}

func TestRetryDriver_Cancellation(t *testing.T) {
	t.Run("before the first generate", func(t *testing.T) {
		f := scripted("SELECT 1")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := f.run(ctx, "q", 3)

		assert.Equal(t, models.SessionStatusCancelled, res.Session.Status)
		assert.Empty(t, res.Session.Attempts)
		assert.Equal(t, 0, f.client.Calls())
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.True(t, apperrors.IsKind(res.Err, apperrors.KindCancelled))
		assert.Equal(t, []DriverState{StateStart, StateCancelled}, res.Transitions)
	})

	t.Run("during generate", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client := llm.NewMockLLMClient()
		client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*llm.GenerateResponseResult, error) {
			cancel()
			return nil, ctx.Err()
		}
		f := newDriverFixture(client)

		res := f.run(ctx, "q", 3)

		assert.Equal(t, models.SessionStatusCancelled, res.Session.Status)
		assert.Empty(t, res.Session.Attempts)
		assert.Equal(t, 0, f.executor.Calls())
	})

	t.Run("during execute", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := scripted("SELECT pg_sleep(60)")
		f.executor.QueryFunc = func(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryExecutionResult, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}

		res := f.run(ctx, "q", 3)

		assert.Equal(t, models.SessionStatusCancelled, res.Session.Status)
		require.Len(t, res.Session.Attempts, 1)
		assert.Equal(t, apperrors.KindCancelled, res.Session.Attempts[0].ErrorKind())
		assert.Equal(t, 1, f.client.Calls())
		assert.Equal(t, StateCancelled, res.Transitions[len(res.Transitions)-1])
	})
}

func TestRetryDriver_ConcurrentSessions(t *testing.T) {
	client := llm.NewMockLLMClient()
	client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*llm.GenerateResponseResult, error) {
		return &llm.GenerateResponseResult{Content: sqlReply("SELECT DISTINCT vendorgroup FROM purchase_order")}, nil
	}
	f := newDriverFixture(client)

	const sessions = 8
	results := make([]*DriverResult, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.run(context.Background(), fmt.Sprintf("question %d", i), 2)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, models.SessionStatusSucceeded, res.Session.Status)
		assert.Len(t, res.Session.Attempts, 1)
	}
	assert.Equal(t, sessions, f.executor.Calls())
}
