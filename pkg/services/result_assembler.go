package services

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// AssembleResponse packages a driver outcome into the caller-facing payload.
// Every failed attempt is reported, whatever the outcome.
func AssembleResponse(res *DriverResult) *models.QueryResponse {
	session := res.Session
	resp := &models.QueryResponse{
		SessionID:         session.ID.String(),
		Status:            session.Status,
		Columns:           []string{},
		Results:           []map[string]any{},
		RetryCount:        session.RetryCount(),
		ErrorsEncountered: attemptErrors(session),
		Resolution:        session.Resolution,
	}

	if last, ok := session.LastAttempt(); ok {
		resp.SQLQuery = last.SQL
		resp.Explanation = last.Explanation
	}

	switch session.Status {
	case models.SessionStatusSucceeded:
		resp.Explanation = res.Explanation
		resp.ExecutionTime = res.ExecutionTime.Seconds()
		if res.Result != nil {
			resp.Columns = res.Result.ColumnNames()
			if res.Result.Rows != nil {
				resp.Results = res.Result.Rows
			}
			resp.RowCount = res.Result.RowCount
		}

	case models.SessionStatusDenied:
		resp.Denied = true
		resp.RetryCount = 0
		resp.Error = errorDetail(res.Err)
		resp.Summary = "request denied before generation"

	default:
		resp.Errors = resp.ErrorsEncountered
		if last, ok := session.LastAttempt(); ok && last.Failed() {
			resp.Error = last.ErrorMessage()
		} else {
			resp.Error = errorDetail(res.Err)
		}
		resp.Summary = failureSummary(session, res.Err)
	}

	return resp
}

func attemptErrors(session *models.QuerySession) []models.AttemptError {
	failed := session.FailedAttempts()
	out := make([]models.AttemptError, 0, len(failed))
	for _, a := range failed {
		out = append(out, models.AttemptError{
			Attempt: a.Index,
			SQL:     a.SQL,
			Kind:    string(a.ErrorKind()),
			Error:   a.ErrorMessage(),
		})
	}
	return out
}

func failureSummary(session *models.QuerySession, err error) string {
	n := len(session.Attempts)
	switch session.Status {
	case models.SessionStatusExhausted:
		return fmt.Sprintf("exhausted: all %d attempts failed", n)
	case models.SessionStatusNonConvergent:
		return fmt.Sprintf("non_convergent: %s; stopped after %d of %d attempts", errorDetail(err), n, session.MaxAttempts())
	case models.SessionStatusCancelled:
		return fmt.Sprintf("cancelled after %d attempts", n)
	default:
		return string(session.Status)
	}
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Detail()
	}
	return err.Error()
}
