package merge

import (
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"
)

// neighborRing is how many hexagon rings around an item's own cell are
// scanned for merge partners. At resolution 10 the merge radius can reach
// past the immediate ring, so two rings are needed to keep the bucketing
// a pure optimization with no missed pairs.
const neighborRing = 2

// cellIndex buckets item indices by H3 cell so pairwise comparison only
// happens between spatially adjacent items.
type cellIndex struct {
	res     int
	buckets map[h3.Cell][]int
}

func newCellIndex(res int) *cellIndex {
	return &cellIndex{
		res:     res,
		buckets: make(map[h3.Cell][]int),
	}
}

func (ci *cellIndex) add(idx int, lat, lon float64) (h3.Cell, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), ci.res)
	if err != nil {
		return 0, eris.Wrapf(err, "merge: cell for (%f,%f) at res %d", lat, lon, ci.res)
	}
	ci.buckets[cell] = append(ci.buckets[cell], idx)
	return cell, nil
}

// near returns the indices bucketed in the given cell and its surrounding
// rings.
func (ci *cellIndex) near(cell h3.Cell) ([]int, error) {
	disk, err := h3.GridDisk(cell, neighborRing)
	if err != nil {
		return nil, eris.Wrap(err, "merge: grid disk")
	}

	var out []int
	for _, c := range disk {
		out = append(out, ci.buckets[c]...)
	}
	return out, nil
}
