// Package ontology holds concept definitions and resolves questions against them.
package ontology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-ask/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// StoreOptions mirrors the ontology configuration surface.
type StoreOptions struct {
	Enabled           bool
	DynamicGeneration bool
}

// Store publishes the current ontology. Readers take an immutable snapshot;
// writers swap a fully built value, so no reader sees a partial update.
type Store struct {
	opts    StoreOptions
	manual  atomic.Pointer[models.Ontology]
	dynamic sync.Map // schema name -> *models.Ontology
	logger  *zap.Logger
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions, logger *zap.Logger) *Store {
	return &Store{
		opts:   opts,
		logger: logger.Named("ontology-store"),
	}
}

// Enabled reports whether ontology grounding is turned on.
func (s *Store) Enabled() bool {
	return s.opts.Enabled
}

// Load parses an ontology file (.yaml, .yml or .json) and publishes it.
func (s *Store) Load(path string) error {
	o, err := ParseFile(path)
	if err != nil {
		return err
	}
	if err := s.Replace(o); err != nil {
		return fmt.Errorf("ontology %s: %w", path, err)
	}
	s.logger.Info("Loaded ontology",
		zap.String("path", path),
		zap.Int("concepts", len(o.Concepts)),
		zap.Int("mappings", len(o.Mappings)))
	return nil
}

// Replace validates and atomically publishes a manual ontology.
// Passing nil clears it.
func (s *Store) Replace(o *models.Ontology) error {
	if o != nil {
		if err := Validate(o); err != nil {
			return err
		}
	}
	s.manual.Store(o)
	return nil
}

// Current returns the manual ontology, or nil when none is loaded.
func (s *Store) Current() *models.Ontology {
	return s.manual.Load()
}

// ForSchema returns the ontology to resolve against for a snapshot: the manual
// ontology when loaded, otherwise a synthesized one when dynamic generation is on.
// A nil ontology with a nil error means the caller should use raw schema context.
func (s *Store) ForSchema(snapshot *models.SchemaSnapshot) (*models.Ontology, error) {
	if !s.opts.Enabled {
		return nil, apperrors.ErrOntologyDisabled
	}
	if o := s.manual.Load(); o != nil {
		return o, nil
	}
	if !s.opts.DynamicGeneration || snapshot == nil {
		return nil, nil
	}

	if cached, ok := s.dynamic.Load(snapshot.Name); ok {
		o := cached.(*models.Ontology)
		if o.SchemaVersion == snapshot.Version {
			return o, nil
		}
	}
	o := Synthesize(snapshot)
	s.dynamic.Store(snapshot.Name, o)
	s.logger.Debug("Synthesized dynamic ontology",
		zap.String("schema", snapshot.Name),
		zap.Uint64("version", snapshot.Version),
		zap.Int("concepts", len(o.Concepts)))
	return o, nil
}

// Invalidate drops the dynamic ontology cached for a schema.
func (s *Store) Invalidate(schemaName string) {
	s.dynamic.Delete(schemaName)
}

// ParseFile reads an ontology document from disk.
func ParseFile(path string) (*models.Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ontology file: %w", err)
	}
	var o models.Ontology
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &o)
	case ".json":
		err = json.Unmarshal(data, &o)
	default:
		return nil, fmt.Errorf("unsupported ontology file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse ontology file %s: %w", path, err)
	}
	return &o, nil
}

// Validate checks an authored ontology for structural problems.
func Validate(o *models.Ontology) error {
	var errs []error
	seen := make(map[string]bool, len(o.Concepts))
	for i, c := range o.Concepts {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("concept %d: name is required", i))
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("concept %q: duplicate name", name))
		}
		seen[key] = true
		for propName, p := range c.Properties {
			if p.Column != nil && (p.Column.Table == "" || p.Column.Column == "") {
				errs = append(errs, fmt.Errorf("concept %q property %q: column binding needs table and column", name, propName))
			}
		}
	}
	for i, m := range o.Mappings {
		if m.Confidence < 0 || m.Confidence > 1 {
			errs = append(errs, fmt.Errorf("mapping %d (%s.%s): confidence %.2f outside [0,1]", i, m.Concept, m.Property, m.Confidence))
		}
		if m.Table == "" || m.Column == "" {
			errs = append(errs, fmt.Errorf("mapping %d (%s.%s): table and column are required", i, m.Concept, m.Property))
		}
		if !seen[strings.ToLower(m.Concept)] {
			errs = append(errs, fmt.Errorf("mapping %d: unknown concept %q", i, m.Concept))
		}
	}
	return errors.Join(errs...)
}
