package graph

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// Hint sources.
const (
	SourceForeignKey = "foreign_key"
	SourceNeo4j      = "neo4j"
)

// Provider returns join paths that start at any of the given tables.
type Provider interface {
	Hints(ctx context.Context, snap *models.SchemaSnapshot, tables []string, maxDepth int) ([]models.RelationshipHint, error)
}

// ForeignKeyProvider derives hints from the snapshot's foreign keys.
type ForeignKeyProvider struct{}

// NewForeignKeyProvider creates a provider over snapshot foreign keys.
func NewForeignKeyProvider() *ForeignKeyProvider {
	return &ForeignKeyProvider{}
}

var _ Provider = (*ForeignKeyProvider)(nil)

// Hints walks the foreign key graph from each table up to maxDepth hops.
func (p *ForeignKeyProvider) Hints(_ context.Context, snap *models.SchemaSnapshot, tables []string, maxDepth int) ([]models.RelationshipHint, error) {
	g := FromSnapshot(snap)
	starts := normalizeTables(tables)

	var hints []models.RelationshipHint
	for _, start := range starts {
		hints = append(hints, g.Reachable(start, maxDepth)...)
	}
	return rankHints(hints, starts), nil
}

// rankHints removes the reverse duplicate of paths between two start tables and
// orders the rest: paths between start tables first, then shallower paths, then names.
func rankHints(hints []models.RelationshipHint, starts []string) []models.RelationshipHint {
	isStart := make(map[string]bool, len(starts))
	for _, s := range starts {
		isStart[s] = true
	}

	out := hints[:0]
	for _, h := range hints {
		from, to := strings.ToLower(h.FromTable), strings.ToLower(h.ToTable)
		if isStart[to] && to < from {
			continue
		}
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aStart, bStart := isStart[strings.ToLower(a.ToTable)], isStart[strings.ToLower(b.ToTable)]
		if aStart != bStart {
			return aStart
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.FromTable != b.FromTable {
			return a.FromTable < b.FromTable
		}
		return a.ToTable < b.ToTable
	})
	return out
}

func normalizeTables(tables []string) []string {
	seen := make(map[string]bool, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Fallback asks the primary provider first and uses the secondary when the
// primary fails or has nothing to say.
type Fallback struct {
	primary   Provider
	secondary Provider
	logger    *zap.Logger
}

// NewFallback chains two providers. A nil primary always uses the secondary.
func NewFallback(primary, secondary Provider, logger *zap.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger.Named("graph")}
}

var _ Provider = (*Fallback)(nil)

func (f *Fallback) Hints(ctx context.Context, snap *models.SchemaSnapshot, tables []string, maxDepth int) ([]models.RelationshipHint, error) {
	if f.primary != nil {
		hints, err := f.primary.Hints(ctx, snap, tables, maxDepth)
		if err == nil && len(hints) > 0 {
			return hints, nil
		}
		if err != nil {
			f.logger.Warn("Primary graph provider failed, using foreign keys",
				zap.Strings("tables", tables),
				zap.Error(err))
		}
	}
	return f.secondary.Hints(ctx, snap, tables, maxDepth)
}
