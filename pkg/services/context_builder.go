package services

import (
	"sort"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/prompts"
)

// DefaultTokenBudget is used when a builder is created with a non-positive budget.
const DefaultTokenBudget = 4000

// minErrorChars is the shortest the most recent error is ever cut to.
const minErrorChars = 40

// Profile is a verbosity tier chosen from the token budget.
type Profile string

const (
	ProfileConcise  Profile = "concise"
	ProfileSemi     Profile = "semi"
	ProfileExpanded Profile = "expanded"
	ProfileLarge    Profile = "large"
)

// ProfileLimits caps how much of each context section a profile renders.
type ProfileLimits struct {
	Tables          int
	ColumnsPerTable int
	Examples        int
	GraphHints      int
	HistoryTurns    int
	ErrorChars      int // older attempt errors are cut to this length
}

var profileLimits = map[Profile]ProfileLimits{
	ProfileConcise:  {Tables: 8, ColumnsPerTable: 12, Examples: 1, GraphHints: 3, HistoryTurns: 2, ErrorChars: 200},
	ProfileSemi:     {Tables: 20, ColumnsPerTable: 25, Examples: 3, GraphHints: 8, HistoryTurns: 4, ErrorChars: 400},
	ProfileExpanded: {Tables: 40, ColumnsPerTable: 50, Examples: 5, GraphHints: 15, HistoryTurns: 6, ErrorChars: 800},
	ProfileLarge:    {Tables: 80, ColumnsPerTable: 100, Examples: 8, GraphHints: 30, HistoryTurns: 10, ErrorChars: 1600},
}

// SelectProfile maps a token budget to a profile:
// <3000 concise, 3000-5999 semi, 6000-10000 expanded, >10000 large.
func SelectProfile(budget int) Profile {
	switch {
	case budget < 3000:
		return ProfileConcise
	case budget < 6000:
		return ProfileSemi
	case budget <= 10000:
		return ProfileExpanded
	default:
		return ProfileLarge
	}
}

// Limits returns the caps for the profile.
func (p Profile) Limits() ProfileLimits {
	if l, ok := profileLimits[p]; ok {
		return l
	}
	return profileLimits[ProfileConcise]
}

// EstimateTokens approximates the token count of text as ceil(bytes/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ContextInput is everything a generation context may draw from.
type ContextInput struct {
	Question   string
	History    []models.ConversationTurn
	Snapshot   *models.SchemaSnapshot
	Resolution *models.Resolution
	Examples   []models.SimilarQuery
	GraphHints []models.RelationshipHint
	// Attempts are the session's failed attempts, oldest first.
	Attempts []models.RetryAttempt
	Dialect  string
}

// GenerationContext is the rendered, size-bounded prompt for one generate call.
type GenerationContext struct {
	Profile    Profile
	Budget     int
	Prompt     string
	System     string
	Tokens     int // System plus Prompt
	OverBudget bool

	Tables       []string // included tables, most relevant first
	Examples     int
	GraphHints   int
	HistoryTurns int
	Attempts     int
}

// ContextBuilder selects and truncates generation context to fit a token budget.
type ContextBuilder struct {
	budget int
	logger *zap.Logger
}

// NewContextBuilder creates a builder for the given token budget.
func NewContextBuilder(budget int, logger *zap.Logger) *ContextBuilder {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextBuilder{budget: budget, logger: logger.Named("context-builder")}
}

// Budget returns the configured token budget.
func (b *ContextBuilder) Budget() int {
	return b.budget
}

// Build renders the context for one attempt.
//
// Sections are first capped by the profile. While the estimate exceeds the budget,
// content is dropped in this order: least relevant tables, examples, graph hints,
// oldest conversation turns, attempts older than the most recent. The question,
// the accepted mappings, and the most recent error are kept; the latter is shortened
// only when nothing else is left to drop.
func (b *ContextBuilder) Build(in ContextInput) *GenerationContext {
	profile := SelectProfile(b.budget)
	limits := profile.Limits()

	input := prompts.SQLGenerationInput{
		Dialect:  in.Dialect,
		Question: in.Question,
	}
	if in.Resolution != nil {
		input.Mappings = in.Resolution.ColumnMappings
		input.Unresolved = in.Resolution.UnresolvedTokens
	}

	tables := rankTables(in.Snapshot, in.Resolution, limits.ColumnsPerTable)
	totalTables := len(tables)
	tables = capSlice(tables, limits.Tables)
	examples := capSlice(in.Examples, limits.Examples)
	hints := capSlice(in.GraphHints, limits.GraphHints)
	history := lastN(in.History, limits.HistoryTurns)
	attempts := attemptContexts(in.Attempts, limits.ErrorChars)

	render := func() string {
		input.Tables = tables
		input.OmittedTables = totalTables - len(tables)
		input.Examples = examples
		input.Relationships = hints
		input.History = history
		input.Attempts = attempts
		return prompts.BuildSQLGenerationPrompt(input)
	}

	// The system message is sent with every prompt and counts against the budget.
	system := prompts.BuildSQLGenerationSystemMessage(in.Dialect)
	systemTokens := EstimateTokens(system)

	text := render()
	tokens := func() int { return systemTokens + EstimateTokens(text) }
	over := func() bool { return tokens() > b.budget }

drop:
	for over() {
		switch {
		case len(tables) > 0:
			tables = tables[:len(tables)-1]
		case len(examples) > 0:
			examples = examples[:len(examples)-1]
		case len(hints) > 0:
			hints = hints[:len(hints)-1]
		case len(history) > 0:
			history = history[1:]
		case len(attempts) > 1:
			attempts = attempts[1:]
		default:
			break drop
		}
		text = render()
	}

	if over() && len(attempts) == 1 {
		last := &attempts[0]
		excess := (tokens() - b.budget) * 4
		keep := len(last.Error) - excess - len(ellipsis)
		if keep < minErrorChars {
			keep = minErrorChars
		}
		last.Error = truncateText(last.Error, keep)
		text = render()
	}

	gctx := &GenerationContext{
		Profile:      profile,
		Budget:       b.budget,
		Prompt:       text,
		System:       system,
		Tokens:       tokens(),
		Examples:     len(examples),
		GraphHints:   len(hints),
		HistoryTurns: len(history),
		Attempts:     len(attempts),
	}
	gctx.OverBudget = gctx.Tokens > b.budget
	for _, t := range tables {
		gctx.Tables = append(gctx.Tables, t.Name)
	}

	if gctx.OverBudget {
		b.logger.Warn("Generation context exceeds token budget",
			zap.Int("tokens", gctx.Tokens),
			zap.Int("budget", b.budget),
			zap.String("profile", string(profile)))
	}
	return gctx
}

// rankTables orders schema tables by relevance (best mapping confidence for the
// table) descending, then name. Mapped columns are listed before the rest.
func rankTables(snapshot *models.SchemaSnapshot, res *models.Resolution, maxColumns int) []prompts.TableContext {
	if snapshot == nil {
		return nil
	}

	mapped := make(map[string]bool)
	if res != nil {
		for _, m := range res.ColumnMappings {
			mapped[m.Table+"."+m.Column] = true
		}
	}

	all := snapshot.AllTables()
	tables := make([]prompts.TableContext, 0, len(all))
	for _, t := range all {
		tc := prompts.TableContext{
			Name:      t.Name,
			IsView:    t.IsView,
			Relevance: res.TableConfidence(t.Name),
		}
		var first, rest []prompts.ColumnContext
		for _, c := range t.Columns {
			cc := prompts.ColumnContext{
				Name:         c.Name,
				DataType:     c.DataType,
				IsNullable:   c.IsNullable,
				IsPrimaryKey: c.IsPrimaryKey,
				Mapped:       mapped[t.Name+"."+c.Name],
			}
			if cc.Mapped {
				first = append(first, cc)
			} else {
				rest = append(rest, cc)
			}
		}
		cols := append(first, rest...)
		if maxColumns > 0 && len(cols) > maxColumns {
			tc.OmittedColumns = len(cols) - maxColumns
			cols = cols[:maxColumns]
		}
		tc.Columns = cols
		tables = append(tables, tc)
	}

	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Relevance != tables[j].Relevance {
			return tables[i].Relevance > tables[j].Relevance
		}
		return tables[i].Name < tables[j].Name
	})
	return tables
}

// attemptContexts converts failed attempts for rendering. All but the most recent
// error are cut to maxChars; the most recent is kept verbatim.
func attemptContexts(attempts []models.RetryAttempt, maxChars int) []prompts.AttemptContext {
	out := make([]prompts.AttemptContext, 0, len(attempts))
	for i, a := range attempts {
		msg := a.ErrorMessage()
		if i < len(attempts)-1 {
			msg = truncateText(msg, maxChars)
		}
		out = append(out, prompts.AttemptContext{
			Index: a.Index,
			SQL:   a.SQL,
			Kind:  string(a.ErrorKind()),
			Error: msg,
		})
	}
	return out
}

const ellipsis = "..."

// truncateText cuts s to at most maxLen bytes on a rune boundary.
func truncateText(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + ellipsis
}

func capSlice[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
