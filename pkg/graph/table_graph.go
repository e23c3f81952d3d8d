// Package graph provides advisory join paths between schema tables.
//
// Two providers exist: a Neo4j-backed provider that queries a synced table graph,
// and a foreign-key provider that walks the schema snapshot directly. Hints are
// advisory context for generation and never gate a session.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// edge is one foreign key seen from one side.
type edge struct {
	to   string
	join string // "a.x = b.y"
}

// TableGraph is an undirected graph of tables connected by foreign keys.
type TableGraph struct {
	edges map[string][]edge
	names map[string]string // lower-cased key -> name as declared
}

// NewTableGraph creates an empty table graph.
func NewTableGraph() *TableGraph {
	return &TableGraph{
		edges: make(map[string][]edge),
		names: make(map[string]string),
	}
}

// FromSnapshot builds the graph of a snapshot's tables and foreign keys.
func FromSnapshot(snap *models.SchemaSnapshot) *TableGraph {
	g := NewTableGraph()
	if snap == nil {
		return g
	}
	for _, t := range snap.AllTables() {
		g.AddTable(t.Name)
	}
	for _, fk := range snap.ForeignKeys {
		g.AddForeignKey(fk)
	}
	return g
}

// AddTable adds a table without edges.
func (g *TableGraph) AddTable(name string) {
	key := strings.ToLower(name)
	if _, ok := g.names[key]; !ok {
		g.names[key] = name
	}
}

// AddForeignKey adds an undirected edge between the source and target tables.
// Self references are ignored.
func (g *TableGraph) AddForeignKey(fk models.ForeignKey) {
	g.AddTable(fk.SourceTable)
	g.AddTable(fk.TargetTable)
	src, dst := strings.ToLower(fk.SourceTable), strings.ToLower(fk.TargetTable)
	if src == dst {
		return
	}
	join := fmt.Sprintf("%s.%s = %s.%s", fk.SourceTable, fk.SourceColumn, fk.TargetTable, fk.TargetColumn)
	g.edges[src] = append(g.edges[src], edge{to: dst, join: join})
	g.edges[dst] = append(g.edges[dst], edge{to: src, join: join})
}

// HasTable reports whether the table is part of the graph.
func (g *TableGraph) HasTable(name string) bool {
	_, ok := g.names[strings.ToLower(name)]
	return ok
}

// EdgeCount returns the number of foreign key edges.
func (g *TableGraph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n / 2
}

type visit struct {
	prev  string
	join  string
	depth int
}

// Reachable runs a breadth-first search from start and returns the shortest path
// to every table within maxDepth hops. Neighbors are expanded in name order so
// the chosen path is deterministic.
func (g *TableGraph) Reachable(start string, maxDepth int) []models.RelationshipHint {
	start = strings.ToLower(start)
	if _, ok := g.names[start]; !ok || maxDepth <= 0 {
		return nil
	}

	visited := map[string]visit{start: {}}
	queue := []string{start}
	var order []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		depth := visited[current].depth
		if depth >= maxDepth {
			continue
		}

		neighbors := append([]edge(nil), g.edges[current]...)
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].to != neighbors[j].to {
				return neighbors[i].to < neighbors[j].to
			}
			return neighbors[i].join < neighbors[j].join
		})
		for _, n := range neighbors {
			if _, seen := visited[n.to]; seen {
				continue
			}
			visited[n.to] = visit{prev: current, join: n.join, depth: depth + 1}
			order = append(order, n.to)
			queue = append(queue, n.to)
		}
	}

	hints := make([]models.RelationshipHint, 0, len(order))
	for _, target := range order {
		hints = append(hints, g.hint(start, target, visited))
	}
	return hints
}

func (g *TableGraph) hint(start, target string, visited map[string]visit) models.RelationshipHint {
	var via, joins []string
	for node := target; node != start; node = visited[node].prev {
		v := visited[node]
		joins = append(joins, v.join)
		if v.prev != start {
			via = append(via, g.names[v.prev])
		}
	}
	reverse(via)
	reverse(joins)
	return models.RelationshipHint{
		FromTable:  g.names[start],
		ToTable:    g.names[target],
		Via:        via,
		JoinColumn: strings.Join(joins, " AND "),
		Depth:      visited[target].depth,
		Source:     SourceForeignKey,
	}
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
