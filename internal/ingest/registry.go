// Package ingest turns per-source feeds into canonical candidates. Each
// source kind has one adapter; the pipeline depends only on the Adapter
// interface and the source registry, never on concrete feed formats.
package ingest

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SourceSpec describes one configured feed: where it lives, how to parse
// it, and how much its records are trusted a priori.
type SourceSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // "jsonl", "shapefile", or "xlsx"
	Path string `yaml:"path"`
	URL  string `yaml:"url,omitempty"` // optional ftp:// location fetched before parsing

	// Prior is the static reliability weight in [0,1] for this source.
	Prior float64 `yaml:"prior"`

	// DefaultCategory applies when a record carries no category of its own.
	DefaultCategory string `yaml:"default_category,omitempty"`

	// Format tuning for tabular feeds.
	Sheet    string            `yaml:"sheet,omitempty"`
	SkipRows int               `yaml:"skip_rows,omitempty"`
	Fields   map[string]string `yaml:"fields,omitempty"` // logical -> feed column/attribute
}

// Registry is the set of configured sources, loaded from a YAML file.
type Registry struct {
	Sources []SourceSpec `yaml:"sources"`
}

// LoadRegistry reads and validates the source registry.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read registry %s", path)
	}

	var reg Registry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse registry %s", path)
	}

	seen := make(map[string]struct{}, len(reg.Sources))
	for i, src := range reg.Sources {
		if src.Name == "" {
			return nil, eris.Errorf("ingest: source %d has no name", i)
		}
		if _, dup := seen[src.Name]; dup {
			return nil, eris.Errorf("ingest: duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.Prior < 0 || src.Prior > 1 {
			return nil, eris.Errorf("ingest: source %q prior %f outside [0,1]", src.Name, src.Prior)
		}
	}

	return &reg, nil
}

// field returns the feed column bound to a logical field, defaulting to the
// logical name itself.
func (s SourceSpec) field(logical string) string {
	if col, ok := s.Fields[logical]; ok {
		return col
	}
	return logical
}
