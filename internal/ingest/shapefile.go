package ingest

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/model"
)

// shapefileAdapter reads point features from an open-data shapefile.
// Coordinates come from the geometry; name, description, and category are
// looked up in the attribute table via the source's field bindings.
type shapefileAdapter struct {
	spec   SourceSpec
	logger *zap.Logger
}

func newShapefileAdapter(spec SourceSpec) *shapefileAdapter {
	return &shapefileAdapter{
		spec:   spec,
		logger: zap.L().Named("ingest").With(zap.String("source", spec.Name)),
	}
}

func (a *shapefileAdapter) Source() string { return a.spec.Name }

func (a *shapefileAdapter) Read(ctx context.Context, emit func(model.Candidate) error) error {
	reader, err := shp.Open(a.spec.Path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open shapefile %s", a.spec.Path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name -> index map. DBF field names are NUL-padded.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(logical string, record int) string {
		idx, ok := fieldIdx[strings.ToLower(a.spec.field(logical))]
		if !ok {
			return ""
		}
		val := strings.TrimRight(reader.Attribute(idx), "\x00")
		return strings.TrimSpace(val)
	}

	observed := fileTime(a.spec.Path)

	record := 0
	skipped := 0
	for reader.Next() {
		record++
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: shapefile read cancelled")
		}

		_, shape := reader.Shape()
		lat, lon, ok := pointCoords(shape)
		if !ok {
			skipped++
			continue
		}

		category, rawCategory := coerceCategory(a.spec, attr("category", record))

		c := model.Candidate{
			SourceID:       recordID(a.spec.Name, attr("id", record), record),
			RawName:        attr("name", record),
			RawDescription: attr("description", record),
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
		a.logger.Debug("skipped non-point shapefile records", zap.Int("skipped", skipped))
	}
	return nil
}

// pointCoords extracts lat/lon from point-typed shapes. Other geometries
// are not meaningful as spots and are skipped.
func pointCoords(shape shp.Shape) (lat, lon float64, ok bool) {
	switch p := shape.(type) {
	case *shp.Point:
		return p.Y, p.X, true
	case *shp.PointZ:
		return p.Y, p.X, true
	case *shp.PointM:
		return p.Y, p.X, true
	default:
		return 0, 0, false
	}
}
