package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/model"
)

// jsonlRecord is the wire shape of one line in a JSONL feed.
type jsonlRecord struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Category    string    `json:"category,omitempty"`
	ObservedAt  time.Time `json:"observed_at,omitempty"`
}

type jsonlAdapter struct {
	spec   SourceSpec
	logger *zap.Logger
}

func newJSONLAdapter(spec SourceSpec) *jsonlAdapter {
	return &jsonlAdapter{
		spec:   spec,
		logger: zap.L().Named("ingest").With(zap.String("source", spec.Name)),
	}
}

func (a *jsonlAdapter) Source() string { return a.spec.Name }

func (a *jsonlAdapter) Read(ctx context.Context, emit func(model.Candidate) error) error {
	f, err := os.Open(a.spec.Path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open jsonl %s", a.spec.Path)
	}
	defer f.Close()

	observedFallback := fileTime(a.spec.Path)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	skipped := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: jsonl read cancelled")
		}

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec jsonlRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			a.logger.Debug("skipping malformed jsonl line", zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}

		category, rawCategory := coerceCategory(a.spec, rec.Category)
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = observedFallback
		}

		c := model.Candidate{
			SourceID:       recordID(a.spec.Name, rec.ID, line),
			RawName:        rec.Name,
			RawDescription: rec.Description,
			Latitude:       rec.Latitude,
			Longitude:      rec.Longitude,
			Category:       category,
			RawCategory:    rawCategory,
			ObservedAt:     observed,
			SourcePrior:    a.spec.Prior,
		}
		if err := emit(c); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrapf(err, "ingest: scan jsonl %s", a.spec.Path)
	}

	if skipped > 0 {
		a.logger.Warn("skipped malformed records", zap.Int("skipped", skipped))
	}
	return nil
}
