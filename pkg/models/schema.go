package models

import (
	"strings"
	"time"
)

// SchemaSnapshot is an immutable view of one schema's tables, views and columns.
// Snapshots are produced by a datasource SchemaProvider and shared read-only between
// concurrent query sessions. Never mutate a snapshot after it has been published.
type SchemaSnapshot struct {
	Name        string        `json:"name"`
	Tables      []SchemaTable `json:"tables"`
	Views       []SchemaTable `json:"views,omitempty"`
	ForeignKeys []ForeignKey  `json:"foreign_keys,omitempty"`
	Version     uint64        `json:"version"`
	CapturedAt  time.Time     `json:"captured_at"`
}

// SchemaTable represents a table or view in a snapshot.
type SchemaTable struct {
	Name    string         `json:"name"`
	IsView  bool           `json:"is_view,omitempty"`
	Columns []SchemaColumn `json:"columns"`
}

// SchemaColumn represents a column in a snapshot table.
type SchemaColumn struct {
	Name         string  `json:"name"`
	DataType     string  `json:"type"`
	IsNullable   bool    `json:"nullable"`
	IsPrimaryKey bool    `json:"primary_key"`
	DefaultValue *string `json:"default,omitempty"`
}

// ForeignKey describes a column-level reference between two tables of the snapshot.
type ForeignKey struct {
	SourceTable  string `json:"source_table"`
	SourceColumn string `json:"source_column"`
	TargetTable  string `json:"target_table"`
	TargetColumn string `json:"target_column"`
}

// AllTables returns tables followed by views.
func (s *SchemaSnapshot) AllTables() []SchemaTable {
	if s == nil {
		return nil
	}
	all := make([]SchemaTable, 0, len(s.Tables)+len(s.Views))
	all = append(all, s.Tables...)
	all = append(all, s.Views...)
	return all
}

// FindTable returns the table or view with the given name (case-insensitive).
func (s *SchemaSnapshot) FindTable(name string) (SchemaTable, bool) {
	if s == nil {
		return SchemaTable{}, false
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	for _, v := range s.Views {
		if strings.EqualFold(v.Name, name) {
			return v, true
		}
	}
	return SchemaTable{}, false
}

// FindColumn resolves (table, column) against the snapshot and returns the
// canonical spelling of both names.
func (s *SchemaSnapshot) FindColumn(table, column string) (SchemaTable, SchemaColumn, bool) {
	t, ok := s.FindTable(table)
	if !ok {
		return SchemaTable{}, SchemaColumn{}, false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, column) {
			return t, c, true
		}
	}
	return SchemaTable{}, SchemaColumn{}, false
}

// HasColumn reports whether (table, column) exists in the snapshot.
func (s *SchemaSnapshot) HasColumn(table, column string) bool {
	_, _, ok := s.FindColumn(table, column)
	return ok
}

// ColumnCount returns the total number of columns across tables and views.
func (s *SchemaSnapshot) ColumnCount() int {
	n := 0
	for _, t := range s.AllTables() {
		n += len(t.Columns)
	}
	return n
}
