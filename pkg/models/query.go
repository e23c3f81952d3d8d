package models

// AskRequest is the inbound query call.
type AskRequest struct {
	Question            string             `json:"question"`
	ConversationHistory []ConversationTurn `json:"conversation_history,omitempty"`
	// MaxRetries is optional; nil uses the configured default.
	MaxRetries *int   `json:"max_retries,omitempty"`
	SchemaName string `json:"schema_name,omitempty"`
}

// AttemptError is one failed attempt as reported to the caller.
type AttemptError struct {
	Attempt int    `json:"attempt"`
	SQL     string `json:"sql"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// QueryResponse is the payload returned for every session outcome.
//
// On success the SQL, explanation, result set, and any absorbed errors are populated.
// On exhaustion or non-convergence the same fields carry the failed history, Error
// holds the primary failure reason (the last error) and SQLQuery the last attempted
// statement. On denial only Status, Denied, and Error are set.
type QueryResponse struct {
	SessionID         string           `json:"session_id"`
	Status            SessionStatus    `json:"status"`
	SQLQuery          string           `json:"sql_query"`
	Explanation       string           `json:"explanation,omitempty"`
	Columns           []string         `json:"columns"`
	Results           []map[string]any `json:"results"`
	RowCount          int              `json:"row_count"`
	ExecutionTime     float64          `json:"execution_time"` // seconds
	RetryCount        int              `json:"retry_count"`
	ErrorsEncountered []AttemptError   `json:"errors_encountered"`

	// Failure fields.
	Error   string         `json:"error,omitempty"`
	Errors  []AttemptError `json:"errors,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Denied  bool           `json:"denied,omitempty"`

	Resolution *Resolution `json:"resolution,omitempty"`
}

// Succeeded reports whether the response carries results.
func (r *QueryResponse) Succeeded() bool {
	return r != nil && r.Status == SessionStatusSucceeded
}
