package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/model"
)

// xlsxAdapter reads manually curated submission sheets. The first row is
// taken as a header and columns are resolved through the source's field
// bindings, so sheet layout can vary per source.
type xlsxAdapter struct {
	spec   SourceSpec
	logger *zap.Logger
}

func newXLSXAdapter(spec SourceSpec) *xlsxAdapter {
	return &xlsxAdapter{
		spec:   spec,
		logger: zap.L().Named("ingest").With(zap.String("source", spec.Name)),
	}
}

func (a *xlsxAdapter) Source() string { return a.spec.Name }

func (a *xlsxAdapter) Read(ctx context.Context, emit func(model.Candidate) error) error {
	f, err := xlsx.OpenFile(a.spec.Path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open xlsx %s", a.spec.Path)
	}

	sheet, err := a.sheet(f)
	if err != nil {
		return err
	}
	if len(sheet.Rows) == 0 {
		return nil
	}

	header := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		header[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}

	col := func(row *xlsx.Row, logical string) string {
		idx, ok := header[strings.ToLower(a.spec.field(logical))]
		if !ok || idx >= len(row.Cells) {
			return ""
		}
		return strings.TrimSpace(row.Cells[idx].String())
	}

	observedFallback := fileTime(a.spec.Path)
	skip := a.spec.SkipRows
	if skip < 1 {
		skip = 1 // always skip the header row
	}

	skipped := 0
	for i, row := range sheet.Rows {
		if i < skip {
			continue
		}
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: xlsx read cancelled")
		}

		lat, latErr := strconv.ParseFloat(col(row, "latitude"), 64)
		lon, lonErr := strconv.ParseFloat(col(row, "longitude"), 64)
		if latErr != nil || lonErr != nil {
			a.logger.Debug("skipping row with unparseable coordinates", zap.Int("row", i+1))
			skipped++
			continue
		}

		category, rawCategory := coerceCategory(a.spec, col(row, "category"))

		observed := observedFallback
		if ts := col(row, "observed_at"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				observed = parsed
			}
		}

		c := model.Candidate{
			SourceID:       recordID(a.spec.Name, col(row, "id"), i),
			RawName:        col(row, "name"),
			RawDescription: col(row, "description"),
			Latitude:       lat,
			Longitude:      lon,
			Category:       category,
			RawCategory:    rawCategory,
			ObservedAt:     observed,
			SourcePrior:    a.spec.Prior,
		}
		if err := emit(c); err != nil {
			return err
		}
	}

	if skipped > 0 {
		a.logger.Warn("skipped malformed rows", zap.Int("skipped", skipped))
	}
	return nil
}

func (a *xlsxAdapter) sheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if a.spec.Sheet != "" {
		sheet, ok := f.Sheet[a.spec.Sheet]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found in %s", a.spec.Sheet, a.spec.Path)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: no sheets in %s", a.spec.Path)
	}
	return f.Sheets[0], nil
}
