package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wildsight/spot-pipeline/internal/model"
)

// Adapter streams one source's records as canonical candidates. Adapters
// never validate; malformed records are skipped with a log line and
// everything else is passed through for the validator to judge.
type Adapter interface {
	Source() string
	Read(ctx context.Context, emit func(model.Candidate) error) error
}

// NewAdapter builds the adapter for a source spec.
func NewAdapter(spec SourceSpec) (Adapter, error) {
	switch spec.Kind {
	case "jsonl":
		return newJSONLAdapter(spec), nil
	case "shapefile":
		return newShapefileAdapter(spec), nil
	case "xlsx":
		return newXLSXAdapter(spec), nil
	default:
		return nil, eris.Errorf("ingest: unknown source kind %q for %q", spec.Kind, spec.Name)
	}
}

// recordID builds a per-record source id stable across runs of the same feed.
func recordID(source string, explicit string, index int) string {
	if explicit != "" {
		return source + ":" + explicit
	}
	return fmt.Sprintf("%s:%d", source, index)
}

// fileTime is the fallback observation time for records without their own
// timestamp: the feed file's modification time, which is stable across
// re-runs of the same feed.
func fileTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC()
	}
	return time.Now().UTC()
}

// coerceCategory maps free-text category labels onto the known set,
// falling back to the source's default and then to "other".
func coerceCategory(spec SourceSpec, raw string) (model.Category, string) {
	if raw == "" {
		raw = spec.DefaultCategory
	}
	cat, _ := model.ParseCategory(raw)
	return cat, raw
}
