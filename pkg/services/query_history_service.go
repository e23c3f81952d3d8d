package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/ontology"
	"github.com/ekaya-inc/ekaya-ask/pkg/repositories"
)

// historyScanLimit bounds how many recent entries similarity retrieval scores.
const historyScanLimit = 200

// QueryHistoryService records finished sessions and retrieves similar past questions.
type QueryHistoryService interface {
	Record(ctx context.Context, entry *models.QueryHistoryEntry) error
	List(ctx context.Context, filters models.QueryHistoryFilters) ([]*models.QueryHistoryEntry, error)
	PruneOlderThan(ctx context.Context, schemaName string, cutoff time.Time) (int64, error)
	// TopK returns up to k past questions most similar to question. Advisory only.
	TopK(ctx context.Context, schemaName, question string, k int) ([]models.SimilarQuery, error)
}

type queryHistoryService struct {
	repo   repositories.QueryHistoryRepository
	logger *zap.Logger
}

// NewQueryHistoryService creates a history service over a repository.
func NewQueryHistoryService(repo repositories.QueryHistoryRepository, logger *zap.Logger) QueryHistoryService {
	return &queryHistoryService{
		repo:   repo,
		logger: logger.Named("query-history-service"),
	}
}

var _ QueryHistoryService = (*queryHistoryService)(nil)

func (s *queryHistoryService) Record(ctx context.Context, entry *models.QueryHistoryEntry) error {
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to record query history entry",
			zap.String("session_id", entry.SessionID.String()),
			zap.String("schema", entry.SchemaName),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *queryHistoryService) List(ctx context.Context, filters models.QueryHistoryFilters) ([]*models.QueryHistoryEntry, error) {
	entries, err := s.repo.List(ctx, filters)
	if err != nil {
		s.logger.Error("Failed to list query history entries",
			zap.String("schema", filters.SchemaName),
			zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (s *queryHistoryService) PruneOlderThan(ctx context.Context, schemaName string, cutoff time.Time) (int64, error) {
	count, err := s.repo.DeleteOlderThan(ctx, schemaName, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune query history",
			zap.String("schema", schemaName),
			zap.Error(err))
		return 0, err
	}
	return count, nil
}

// TopK scores recent entries by Jaccard similarity of their question terms.
// Ties prefer successful entries, then more recent ones. Entries with no shared
// term are skipped, and repeated questions are reported once.
func (s *queryHistoryService) TopK(ctx context.Context, schemaName, question string, k int) ([]models.SimilarQuery, error) {
	if k <= 0 {
		return nil, nil
	}

	queryTerms := ontology.Terms(question)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	entries, err := s.repo.List(ctx, models.QueryHistoryFilters{SchemaName: schemaName, Limit: historyScanLimit})
	if err != nil {
		return nil, err
	}

	type scored struct {
		models.SimilarQuery
		createdAt time.Time
	}
	best := make(map[string]scored)
	for _, e := range entries {
		if e.SQL == "" {
			continue
		}
		score := jaccard(queryTerms, ontology.Terms(e.NaturalLanguage))
		if score == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(e.NaturalLanguage))
		candidate := scored{
			SimilarQuery: models.SimilarQuery{
				PastQuestion: e.NaturalLanguage,
				PastSQL:      e.SQL,
				Success:      e.Success,
				Score:        score,
			},
			createdAt: e.CreatedAt,
		}
		if prev, ok := best[key]; !ok || rankSimilar(candidate.SimilarQuery, candidate.createdAt, prev.SimilarQuery, prev.createdAt) {
			best[key] = candidate
		}
	}

	ranked := make([]scored, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return rankSimilar(ranked[i].SimilarQuery, ranked[i].createdAt, ranked[j].SimilarQuery, ranked[j].createdAt)
	})

	out := make([]models.SimilarQuery, 0, min(k, len(ranked)))
	for _, c := range ranked {
		if len(out) == k {
			break
		}
		out = append(out, c.SimilarQuery)
	}
	return out, nil
}

func rankSimilar(a models.SimilarQuery, aAt time.Time, b models.SimilarQuery, bAt time.Time) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Success != b.Success {
		return a.Success
	}
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return a.PastSQL < b.PastSQL
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
