package search

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// MergeKind names a score-combination rule.
type MergeKind string

const (
	// MergeMax keeps the best score across spaces.
	MergeMax MergeKind = "max"
	// MergeSum adds the scores of every space the record was found in.
	MergeSum MergeKind = "sum"
	// MergeWeightedAverage divides the weighted sum by the total weight of
	// all target spaces; a space that did not return the record adds 0.
	MergeWeightedAverage MergeKind = "weighted_average"
)

// MergeRule combines the per-space scores of one record.
type MergeRule struct {
	Kind MergeKind
	// Weights applies to MergeWeightedAverage. Spaces without an entry weigh 1.
	Weights map[string]float32
}

// Max returns the default rule.
func Max() MergeRule { return MergeRule{Kind: MergeMax} }

// Sum returns the additive rule.
func Sum() MergeRule { return MergeRule{Kind: MergeSum} }

// WeightedAverage returns the weighted-average rule.
func WeightedAverage(weights map[string]float32) MergeRule {
	return MergeRule{Kind: MergeWeightedAverage, Weights: maps.Clone(weights)}
}

// ParseMergeRule parses "max", "sum", or "weighted_average" with optional
// weights written as "weighted_average:image=2,text=1".
func ParseMergeRule(s string) (MergeRule, error) {
	name, list, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch MergeKind(strings.ToLower(strings.ReplaceAll(name, "-", "_"))) {
	case "", MergeMax:
		return Max(), nil
	case MergeSum:
		return Sum(), nil
	case MergeWeightedAverage, "weighted", "wavg":
		weights := map[string]float32{}
		if list != "" {
			for _, part := range strings.Split(list, ",") {
				space, value, ok := strings.Cut(part, "=")
				if !ok {
					return MergeRule{}, fmt.Errorf("invalid weight %q: want space=weight", part)
				}
				w, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
				if err != nil {
					return MergeRule{}, fmt.Errorf("invalid weight for %s: %w", space, err)
				}
				weights[strings.TrimSpace(space)] = float32(w)
			}
		}
		rule := WeightedAverage(weights)
		return rule, rule.Validate()
	}
	return MergeRule{}, fmt.Errorf("unknown merge rule %q", s)
}

// Validate checks the rule's parameters.
func (r MergeRule) Validate() error {
	switch r.Kind {
	case MergeMax, MergeSum:
		return nil
	case MergeWeightedAverage:
		for space, w := range r.Weights {
			if w < 0 {
				return fmt.Errorf("weight for %s must not be negative", space)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown merge rule %q", r.Kind)
}

func (r MergeRule) String() string {
	if r.Kind == MergeWeightedAverage && len(r.Weights) > 0 {
		names := make([]string, 0, len(r.Weights))
		for name := range r.Weights {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + "=" + strconv.FormatFloat(float64(r.Weights[name]), 'g', -1, 32)
		}
		return string(r.Kind) + ":" + strings.Join(parts, ",")
	}
	return string(r.Kind)
}

func (r MergeRule) weight(space string) float32 {
	if w, ok := r.Weights[space]; ok {
		return w
	}
	return 1
}

// combine scores one record. found holds the spaces that returned it;
// targets is every space that was queried. Scores are accumulated in
// target order so identical inputs always merge to identical results.
func (r MergeRule) combine(found map[string]float32, targets []string) float32 {
	switch r.Kind {
	case MergeSum:
		var total float32
		for _, space := range targets {
			total += found[space]
		}
		return total
	case MergeWeightedAverage:
		var total, weights float32
		for _, space := range targets {
			w := r.weight(space)
			weights += w
			total += w * found[space]
		}
		if weights == 0 {
			return 0
		}
		return total / weights
	default:
		first := true
		var best float32
		for _, space := range targets {
			s, ok := found[space]
			if ok && (first || s > best) {
				best, first = s, false
			}
		}
		return best
	}
}

// spaceHits is one space's query result.
type spaceHits struct {
	space string
	hits  []store.Hit
}

// merge combines per-space results. Spaces are visited in name order and
// hits in rank order, so the outcome does not depend on which query
// finished first. Ties break by first appearance, then by ID.
func merge(rule MergeRule, results []spaceHits, limit int) []Result {
	sorted := make([]spaceHits, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].space < sorted[j].space })

	targets := make([]string, len(sorted))
	for i, r := range sorted {
		targets[i] = r.space
	}

	type entry struct {
		result Result
		seen   int
	}
	byID := map[string]*entry{}
	var order []*entry
	for _, r := range sorted {
		for _, h := range r.hits {
			e, ok := byID[h.ID]
			if !ok {
				e = &entry{
					result: Result{ID: h.ID, Payload: h.Payload, Spaces: map[string]float32{}},
					seen:   len(order),
				}
				byID[h.ID] = e
				order = append(order, e)
			}
			if prev, dup := e.result.Spaces[r.space]; !dup || h.Score > prev {
				e.result.Spaces[r.space] = h.Score
			}
		}
	}

	for _, e := range order {
		e.result.Score = rule.combine(e.result.Spaces, targets)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.seen != b.seen {
			return a.seen < b.seen
		}
		return a.result.ID < b.result.ID
	})

	if limit > len(order) {
		limit = len(order)
	}
	out := make([]Result, limit)
	for i := range out {
		out[i] = order[i].result
	}
	return out
}
