// Package merge deduplicates scored candidates against each other and the
// existing catalog. Candidates are bucketed into H3 cells to bound pairwise
// comparison, clustered with union-find over the same-spot relation, and
// each cluster either extends one existing spot or founds a new one. Every
// decision is deterministic so re-running an identical batch is a no-op.
package merge

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"

	"github.com/wildsight/spot-pipeline/internal/config"
	"github.com/wildsight/spot-pipeline/internal/model"
	"github.com/wildsight/spot-pipeline/internal/region"
)

// Aggregator rolls member confidences up into one spot confidence.
type Aggregator interface {
	Aggregate(memberConfidences []float64, degradedEnrichment bool) float64
}

// SpotUpdate is one new or changed spot plus the member confidences that
// produced it, so confidence can be re-aggregated after enrichment.
type SpotUpdate struct {
	Spot              model.MergedSpot
	MemberConfidences []float64
	IsNew             bool
}

// Warning records a merge ambiguity that was resolved deterministically,
// such as conflicting categories inside one cluster.
type Warning struct {
	SpotID  string
	Message string
}

// Outcome is the result of merging one batch: only spots that are new or
// actually changed appear, so committing an unchanged batch writes nothing.
type Outcome struct {
	Spots    []SpotUpdate
	Warnings []Warning
}

// Merger performs spatial deduplication for one pipeline run. It is not
// safe for concurrent use; cluster formation is sequential.
type Merger struct {
	cfg    config.MergeConfig
	agg    Aggregator
	logger *zap.Logger
}

func New(cfg config.MergeConfig, agg Aggregator) *Merger {
	return &Merger{
		cfg:    cfg,
		agg:    agg,
		logger: zap.L().Named("merge"),
	}
}

// member is the unified view of things that contribute fields to a spot:
// either a batch candidate or the prior state of an existing spot.
type member struct {
	key        string
	name       string
	desc       string
	lat, lon   float64
	category   model.Category
	confidence float64
	observed   time.Time
}

func candidateMember(sc model.ScoredCandidate) member {
	return member{
		key:        sc.Candidate.SourceID,
		name:       sc.Candidate.RawName,
		desc:       sc.Candidate.RawDescription,
		lat:        sc.Candidate.Latitude,
		lon:        sc.Candidate.Longitude,
		category:   sc.Candidate.Category,
		confidence: sc.Confidence,
		observed:   sc.Candidate.ObservedAt,
	}
}

// spotMember represents an existing spot during field resolution. Its
// confidence is the spot's aggregate, used only as a resolution weight;
// it never enters the member score roster.
func spotMember(s model.MergedSpot) member {
	return member{
		key:        "spot:" + s.ID,
		name:       s.CanonicalName,
		desc:       s.CanonicalDesc,
		lat:        s.Latitude,
		lon:        s.Longitude,
		category:   s.Category,
		confidence: s.Confidence,
		observed:   s.CreatedAt,
	}
}

// Merge clusters the batch against itself and the given catalog slice and
// returns the spots to commit. Candidates that failed validation are
// ignored; callers are expected to have filtered them already.
func (m *Merger) Merge(batch []model.ScoredCandidate, existing []model.MergedSpot) (Outcome, error) {
	cands := make([]model.ScoredCandidate, 0, len(batch))
	for _, sc := range batch {
		if sc.Validation.StructurallyValid {
			cands = append(cands, sc)
		}
	}
	// Stable processing order regardless of how the batch arrived.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].Candidate, cands[j].Candidate
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		return a.SourceID < b.SourceID
	})

	candCells := newCellIndex(m.cfg.CellResolution)
	cells := make([]h3.Cell, len(cands))
	for i, sc := range cands {
		cell, err := candCells.add(i, sc.Candidate.Latitude, sc.Candidate.Longitude)
		if err != nil {
			return Outcome{}, err
		}
		cells[i] = cell
	}

	uf := newUnionFind(len(cands))
	for i := range cands {
		near, err := candCells.near(cells[i])
		if err != nil {
			return Outcome{}, err
		}
		for _, j := range near {
			if j <= i {
				continue
			}
			if m.sameSpot(cands[i].Candidate, cands[j].Candidate) {
				uf.union(i, j)
			}
		}
	}

	spotCells := newCellIndex(m.cfg.CellResolution)
	for i, s := range existing {
		if _, err := spotCells.add(i, s.Latitude, s.Longitude); err != nil {
			return Outcome{}, err
		}
	}

	clusters := groupClusters(uf, len(cands))

	// Working copies: a spot extended by one cluster must be visible in its
	// updated form to later clusters of the same run.
	working := make(map[string]*spotState, len(existing))
	for _, s := range existing {
		working[s.ID] = &spotState{spot: s}
	}

	var out Outcome
	for _, cluster := range clusters {
		target, err := m.matchExisting(cluster, cands, spotCells, cells, existing, working)
		if err != nil {
			return Outcome{}, err
		}
		if target != nil {
			m.extendSpot(target, cluster, cands, &out)
		} else {
			m.foundSpot(cluster, cands, &out)
		}
	}

	for _, st := range working {
		if st.changed {
			out.Spots = append(out.Spots, SpotUpdate{
				Spot:              st.spot,
				MemberConfidences: st.memberConfidences,
			})
		}
	}
	sort.Slice(out.Spots, func(i, j int) bool { return out.Spots[i].Spot.ID < out.Spots[j].Spot.ID })

	return out, nil
}

// sameSpot is the pairwise merge relation: close enough, and either the
// categories agree or the names do.
func (m *Merger) sameSpot(a, b model.Candidate) bool {
	d := region.HaversineM(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	if d > m.cfg.DistanceThresholdM {
		return false
	}
	if a.Category == b.Category {
		return true
	}
	return NameSimilarity(a.RawName, b.RawName) >= m.cfg.NameSimThreshold
}

func (m *Merger) matchesSpot(c model.Candidate, s model.MergedSpot) bool {
	if s.HasMember(c.SourceID) {
		return true
	}
	d := region.HaversineM(c.Latitude, c.Longitude, s.Latitude, s.Longitude)
	if d > m.cfg.DistanceThresholdM {
		return false
	}
	if c.Category == s.Category {
		return true
	}
	return NameSimilarity(c.RawName, s.CanonicalName) >= m.cfg.NameSimThreshold
}

type spotState struct {
	spot              model.MergedSpot
	memberConfidences []float64
	changed           bool
}

// matchExisting finds the existing spot a cluster should extend, or nil if
// the cluster founds a new spot. When a cluster matches several spots it is
// attached to the spatially nearest one only; the others are left alone.
func (m *Merger) matchExisting(cluster []int, cands []model.ScoredCandidate, spotCells *cellIndex, cells []h3.Cell, existing []model.MergedSpot, working map[string]*spotState) (*spotState, error) {
	matched := make(map[string]struct{})
	for _, i := range cluster {
		near, err := spotCells.near(cells[i])
		if err != nil {
			return nil, err
		}
		for _, si := range near {
			st := working[existing[si].ID]
			if m.matchesSpot(cands[i].Candidate, st.spot) {
				matched[st.spot.ID] = struct{}{}
			}
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) == 1 {
		return working[ids[0]], nil
	}

	// No merge-of-merges in one pass: pick the spot nearest to the
	// cluster's weighted centroid, ties broken by id for stability.
	cLat, cLon := centroid(clusterMembers(cluster, cands))
	bestID := ids[0]
	bestDist := region.HaversineM(cLat, cLon, working[ids[0]].spot.Latitude, working[ids[0]].spot.Longitude)
	for _, id := range ids[1:] {
		d := region.HaversineM(cLat, cLon, working[id].spot.Latitude, working[id].spot.Longitude)
		if d < bestDist {
			bestID, bestDist = id, d
		}
	}
	m.logger.Debug("cluster matched multiple spots, attaching to nearest",
		zap.Strings("matched", ids),
		zap.String("chosen", bestID))

	return working[bestID], nil
}

// extendSpot folds a cluster's new members into an existing spot. Members
// already present contribute nothing; a cluster of pure re-observations
// leaves the spot byte-identical.
func (m *Merger) extendSpot(st *spotState, cluster []int, cands []model.ScoredCandidate, out *Outcome) {
	var fresh []member
	newest := st.spot.UpdatedAt
	for _, i := range cluster {
		c := cands[i]
		if st.spot.HasMember(c.Candidate.SourceID) {
			continue
		}
		fresh = append(fresh, candidateMember(c))
		if c.Candidate.ObservedAt.After(newest) {
			newest = c.Candidate.ObservedAt
		}
	}
	if len(fresh) == 0 {
		return
	}

	fields, warn := resolveFields(append([]member{spotMember(st.spot)}, fresh...))

	st.spot.CanonicalName = fields.name
	st.spot.CanonicalDesc = fields.desc
	st.spot.Latitude = fields.lat
	st.spot.Longitude = fields.lon
	st.spot.Category = fields.category
	st.spot.UpdatedAt = newest

	// The roster keeps every member's raw candidate score; the aggregate
	// is re-derived from those on each extension and never compounds.
	roster := make(map[string]float64, len(st.spot.Members)+len(fresh))
	for id, conf := range st.spot.Members {
		roster[id] = conf
	}
	for _, mm := range fresh {
		roster[mm.key] = mm.confidence
	}
	st.spot.Members = roster

	confs := make([]float64, 0, len(roster))
	for _, id := range st.spot.MemberIDs() {
		confs = append(confs, roster[id])
	}
	degraded := st.spot.Enrichment != nil && st.spot.Enrichment.Degraded
	st.spot.Confidence = m.agg.Aggregate(confs, degraded)
	st.memberConfidences = confs
	st.changed = true

	if warn != "" {
		m.logger.Warn("merge ambiguity", zap.String("spot_id", st.spot.ID), zap.String("detail", warn))
		out.Warnings = append(out.Warnings, Warning{SpotID: st.spot.ID, Message: warn})
	}
}

// foundSpot creates a new spot from a cluster with no existing match. The
// id is derived from the founding member set so identical batches yield
// identical spots.
func (m *Merger) foundSpot(cluster []int, cands []model.ScoredCandidate, out *Outcome) {
	members := clusterMembers(cluster, cands)
	fields, warn := resolveFields(members)

	ids := make([]string, 0, len(members))
	confs := make([]float64, 0, len(members))
	roster := make(map[string]float64, len(members))
	oldest := members[0].observed
	newest := members[0].observed
	for _, mm := range members {
		ids = append(ids, mm.key)
		confs = append(confs, mm.confidence)
		roster[mm.key] = mm.confidence
		if mm.observed.Before(oldest) {
			oldest = mm.observed
		}
		if mm.observed.After(newest) {
			newest = mm.observed
		}
	}
	sort.Strings(ids)

	spot := model.MergedSpot{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte("spot:"+strings.Join(ids, "|"))).String(),
		CanonicalName: fields.name,
		CanonicalDesc: fields.desc,
		Latitude:      fields.lat,
		Longitude:     fields.lon,
		Category:      fields.category,
		Members:       roster,
		Confidence:    m.agg.Aggregate(confs, false),
		Status:        model.StatusUnverified,
		CreatedAt:     oldest,
		UpdatedAt:     newest,
	}

	if warn != "" {
		m.logger.Warn("merge ambiguity", zap.String("spot_id", spot.ID), zap.String("detail", warn))
		out.Warnings = append(out.Warnings, Warning{SpotID: spot.ID, Message: warn})
	}

	out.Spots = append(out.Spots, SpotUpdate{Spot: spot, MemberConfidences: confs, IsNew: true})
}

func clusterMembers(cluster []int, cands []model.ScoredCandidate) []member {
	members := make([]member, len(cluster))
	for i, idx := range cluster {
		members[i] = candidateMember(cands[idx])
	}
	return members
}

type resolved struct {
	name     string
	desc     string
	lat, lon float64
	category model.Category
}

// resolveFields picks canonical fields deterministically: name, category,
// and description follow the highest-confidence member (oldest observation,
// then smallest key, on ties); coordinates are the confidence-weighted
// centroid. Returns a non-empty warning when member categories conflict.
func resolveFields(members []member) (resolved, string) {
	ordered := make([]member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if !a.observed.Equal(b.observed) {
			return a.observed.Before(b.observed)
		}
		return a.key < b.key
	})

	best := ordered[0]
	r := resolved{
		name:     best.name,
		category: best.category,
	}
	for _, mm := range ordered {
		if strings.TrimSpace(mm.desc) != "" {
			r.desc = mm.desc
			break
		}
	}
	r.lat, r.lon = centroid(members)

	warn := ""
	for _, mm := range ordered[1:] {
		if mm.category != best.category {
			warn = "conflicting member categories, kept " + string(best.category)
			break
		}
	}

	return r, warn
}

// centroid is the confidence-weighted mean position; with all-zero weights
// it falls back to the plain mean.
func centroid(members []member) (float64, float64) {
	var wSum, latSum, lonSum float64
	for _, mm := range members {
		wSum += mm.confidence
		latSum += mm.confidence * mm.lat
		lonSum += mm.confidence * mm.lon
	}
	if wSum == 0 {
		for _, mm := range members {
			latSum += mm.lat
			lonSum += mm.lon
		}
		n := float64(len(members))
		return latSum / n, lonSum / n
	}
	return latSum / wSum, lonSum / wSum
}

func groupClusters(uf *unionFind, n int) [][]int {
	byRoot := make(map[int][]int)
	order := make([]int, 0)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		if _, ok := byRoot[root]; !ok {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], i)
	}

	clusters := make([][]int, 0, len(order))
	for _, root := range order {
		clusters = append(clusters, byRoot[root])
	}
	return clusters
}
