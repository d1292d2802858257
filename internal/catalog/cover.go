package catalog

import "sort"

// PlanResult is the planner output. Partial is set when no remaining sample
// adds coverage before the target is reached; partial coverage is a valid
// business decision point, not an error.
type PlanResult struct {
	Selected []CanonicalID `json:"selected"`
	Universe int           `json:"universe"`
	Covered  int           `json:"covered"`
	Achieved float64       `json:"achieved"`
	Target   float64       `json:"target"`
	Partial  bool          `json:"partial"`
}

// Plan computes a greedy weighted set cover over the sampled categories:
// repeatedly pick the sample contributing the most yet-uncovered products
// until the target coverage fraction is reached or no sample adds coverage.
// Greedy is a (1-1/e)-approximation; exact cover is NP-hard and the category
// count makes exact solving impractical. Ties break by canonical id ascending
// so the selection is deterministic.
func Plan(samples []CoverageSample, targetCoverage float64) (PlanResult, error) {
	return PlanAgainstUniverse(samples, nil, targetCoverage)
}

// PlanAgainstUniverse runs the same greedy selection against an externally
// known universe of product ids, e.g. a prior full-crawl census. Products in
// the universe that no sample observed make the target unreachable; the
// result then carries Partial with the residual fraction. A nil universe
// falls back to the union of the samples.
func PlanAgainstUniverse(
	samples []CoverageSample,
	universeIDs map[string]struct{},
	targetCoverage float64,
) (PlanResult, error) {
	if len(samples) == 0 {
		return PlanResult{}, ErrEmptySampleSet
	}
	if targetCoverage < 0 {
		targetCoverage = 0
	}
	if targetCoverage > 1 {
		targetCoverage = 1
	}

	ordered := make([]CoverageSample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CanonicalID < ordered[j].CanonicalID })

	universe := universeIDs
	if universe == nil {
		universe = make(map[string]struct{})
		for _, s := range ordered {
			for id := range s.ProductIDs {
				universe[id] = struct{}{}
			}
		}
	}

	result := PlanResult{Target: targetCoverage, Universe: len(universe)}
	if len(universe) == 0 {
		result.Achieved = 1
		return result, nil
	}

	covered := make(map[string]struct{}, len(universe))
	remaining := ordered
	for float64(len(covered))/float64(len(universe)) < targetCoverage {
		bestIdx := -1
		bestGain := 0
		for i, s := range remaining {
			gain := 0
			for id := range s.ProductIDs {
				if _, inUniverse := universe[id]; !inUniverse {
					continue
				}
				if _, ok := covered[id]; !ok {
					gain++
				}
			}
			if gain > bestGain {
				bestGain = gain
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			// Some products only appear in unselectable samples; report the
			// residual instead of silently under-covering.
			result.Partial = true
			break
		}
		picked := remaining[bestIdx]
		for id := range picked.ProductIDs {
			if _, inUniverse := universe[id]; inUniverse {
				covered[id] = struct{}{}
			}
		}
		result.Selected = append(result.Selected, picked.CanonicalID)
		remaining = append(remaining[:bestIdx:bestIdx], remaining[bestIdx+1:]...)
	}

	result.Covered = len(covered)
	result.Achieved = float64(len(covered)) / float64(len(universe))
	return result, nil
}
