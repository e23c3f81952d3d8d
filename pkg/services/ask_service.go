package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/graph"
	"github.com/ekaya-inc/ekaya-ask/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
)

// MaxRetriesLimit caps the retries a caller may request.
const MaxRetriesLimit = 10

// historyWriteTimeout bounds recording an outcome after the caller has its answer.
const historyWriteTimeout = 5 * time.Second

// SnapshotSource returns the current immutable snapshot of a schema.
type SnapshotSource interface {
	Get(ctx context.Context, schemaName string) (*models.SchemaSnapshot, error)
}

// OntologySource returns the ontology to resolve against for a snapshot.
type OntologySource interface {
	ForSchema(snapshot *models.SchemaSnapshot) (*models.Ontology, error)
}

// AskConfig holds the per-request defaults.
type AskConfig struct {
	DefaultSchema        string
	MaxRetries           int
	HistoryTopK          int
	MaxRelationshipDepth int
}

// AskDeps are the collaborators of the ask pipeline. History, Graph and Metrics may be nil.
type AskDeps struct {
	Schemas  SnapshotSource
	Ontology OntologySource
	Resolver *ontology.Resolver
	Driver   *RetryDriver
	History  QueryHistoryService
	Graph    graph.Provider
	Metrics  *metrics.Metrics
}

// AskService turns a question into an executed query response.
type AskService interface {
	Ask(ctx context.Context, req *models.AskRequest) (*models.QueryResponse, error)
}

type askService struct {
	deps   AskDeps
	cfg    AskConfig
	logger *zap.Logger
}

// NewAskService creates the ask pipeline.
func NewAskService(deps AskDeps, cfg AskConfig, logger *zap.Logger) AskService {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &askService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("ask-service"),
	}
}

var _ AskService = (*askService)(nil)

// Ask runs one session. Validation and schema loading failures are returned as
// errors. The authorization gate is consulted before any schema or ontology
// work. Every driver outcome is returned as a response; a cancelled session
// also returns the context error.
func (s *askService) Ask(ctx context.Context, req *models.AskRequest) (*models.QueryResponse, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" {
		return nil, apperrors.ErrInvalidQuestion
	}

	schemaName := strings.TrimSpace(req.SchemaName)
	if schemaName == "" {
		schemaName = s.cfg.DefaultSchema
	}
	session := models.NewQuerySession(req.Question, req.ConversationHistory, schemaName, s.maxRetries(req.MaxRetries))
	log := s.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("schema", schemaName))

	if denied := s.deps.Driver.Admit(ctx, session); denied != nil {
		resp := AssembleResponse(denied)
		s.deps.Metrics.ObserveSession(session)
		return resp, nil
	}

	snapshot, err := s.deps.Schemas.Get(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("load schema snapshot: %w", err)
	}

	onto, err := s.deps.Ontology.ForSchema(snapshot)
	if err != nil && !errors.Is(err, apperrors.ErrOntologyDisabled) {
		return nil, fmt.Errorf("load ontology: %w", err)
	}

	session.Resolution = s.deps.Resolver.Resolve(session.Question, onto, snapshot)
	if session.Resolution.IsEmpty() {
		log.Info("No ontology mapping met the threshold; using raw schema context",
			zap.String("kind", string(apperrors.KindResolutionWarning)),
			zap.Strings("unresolved", session.Resolution.UnresolvedTokens),
			zap.Int("low_confidence", len(session.Resolution.LowConfidence)))
	} else {
		log.Debug("Question resolved",
			zap.Int("mappings", len(session.Resolution.ColumnMappings)),
			zap.Float64("confidence", session.Resolution.Confidence))
	}

	result := s.deps.Driver.Run(ctx, DriverInput{
		Session:    session,
		Snapshot:   snapshot,
		Examples:   s.examples(ctx, log, schemaName, session.Question),
		GraphHints: s.graphHints(ctx, log, snapshot, session.Resolution),
	})

	resp := AssembleResponse(result)
	s.deps.Metrics.ObserveSession(session)
	s.record(ctx, log, session, resp)

	if session.Status == models.SessionStatusCancelled {
		return resp, ctx.Err()
	}
	return resp, nil
}

func (s *askService) maxRetries(requested *int) int {
	if requested == nil || *requested < 0 {
		return s.cfg.MaxRetries
	}
	if *requested > MaxRetriesLimit {
		return MaxRetriesLimit
	}
	return *requested
}

func (s *askService) examples(ctx context.Context, log *zap.Logger, schemaName, question string) []models.SimilarQuery {
	if s.deps.History == nil || s.cfg.HistoryTopK <= 0 {
		return nil
	}
	examples, err := s.deps.History.TopK(ctx, schemaName, question, s.cfg.HistoryTopK)
	if err != nil {
		log.Warn("Similar question retrieval failed; continuing without examples", zap.Error(err))
		return nil
	}
	return examples
}

func (s *askService) graphHints(ctx context.Context, log *zap.Logger, snapshot *models.SchemaSnapshot, res *models.Resolution) []models.RelationshipHint {
	if s.deps.Graph == nil || s.cfg.MaxRelationshipDepth <= 0 || res.IsEmpty() {
		return nil
	}
	hints, err := s.deps.Graph.Hints(ctx, snapshot, mappedTables(res), s.cfg.MaxRelationshipDepth)
	if err != nil {
		log.Warn("Graph insights failed; continuing without join hints", zap.Error(err))
		return nil
	}
	return hints
}

// record stores the outcome for similarity retrieval. Denied and cancelled
// sessions carry nothing worth learning from.
func (s *askService) record(ctx context.Context, log *zap.Logger, session *models.QuerySession, resp *models.QueryResponse) {
	if s.deps.History == nil {
		return
	}
	switch session.Status {
	case models.SessionStatusSucceeded, models.SessionStatusExhausted, models.SessionStatusNonConvergent:
	default:
		return
	}

	entry := &models.QueryHistoryEntry{
		SessionID:       session.ID,
		SchemaName:      session.SchemaName,
		NaturalLanguage: session.Question,
		SQL:             resp.SQLQuery,
		Success:         resp.Succeeded(),
		RetryCount:      resp.RetryCount,
	}
	if resp.Succeeded() {
		rows := resp.RowCount
		ms := int(resp.ExecutionTime * 1000)
		entry.RowCount = &rows
		entry.ExecutionDurationMs = &ms
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := s.deps.History.Record(wctx, entry); err != nil {
		log.Warn("Failed to record query history", zap.Error(err))
	}
}

func mappedTables(res *models.Resolution) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, m := range res.ColumnMappings {
		if !seen[m.Table] {
			seen[m.Table] = true
			tables = append(tables, m.Table)
		}
	}
	sort.Strings(tables)
	return tables
}
