package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sample(id CanonicalID, products ...string) CoverageSample {
	set := make(map[string]struct{}, len(products))
	for _, p := range products {
		set[p] = struct{}{}
	}
	return CoverageSample{CanonicalID: id, ProductIDs: set}
}

func TestPlanEmptySampleSet(t *testing.T) {
	t.Parallel()

	_, err := Plan(nil, 0.9)
	require.ErrorIs(t, err, ErrEmptySampleSet)
}

func TestPlanGreedyExample(t *testing.T) {
	t.Parallel()

	// A covers 3/5, then B adds p4 reaching 4/5 = 0.8 and the loop stops.
	samples := []CoverageSample{
		sample("A", "p1", "p2", "p3"),
		sample("B", "p3", "p4"),
		sample("C", "p5"),
	}
	res, err := Plan(samples, 0.8)
	require.NoError(t, err)
	require.Equal(t, []CanonicalID{"A", "B"}, res.Selected)
	require.Equal(t, 5, res.Universe)
	require.InDelta(t, 0.8, res.Achieved, 1e-9)
	require.False(t, res.Partial)
}

func TestPlanDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Identical gain: lower canonical id wins regardless of input order.
	samples := []CoverageSample{
		sample("Z", "p1", "p2"),
		sample("A", "p3", "p4"),
	}
	res, err := Plan(samples, 0.5)
	require.NoError(t, err)
	require.Equal(t, []CanonicalID{"A"}, res.Selected)
}

func TestPlanPartialCoverage(t *testing.T) {
	t.Parallel()

	// p9 only exists in a category excluded from sampling, so full coverage
	// is unreachable; the planner reports the residual rather than silently
	// under-covering.
	universe := map[string]struct{}{
		"p1": {}, "p2": {}, "p9": {},
	}
	samples := []CoverageSample{
		sample("A", "p1", "p2"),
		sample("B", "p1"),
	}
	res, err := PlanAgainstUniverse(samples, universe, 1.0)
	require.NoError(t, err)
	require.Equal(t, []CanonicalID{"A"}, res.Selected)
	require.True(t, res.Partial)
	require.InDelta(t, 2.0/3.0, res.Achieved, 1e-9)
	require.Equal(t, 1.0, res.Target)
}

func TestPlanMonotoneInSamplePool(t *testing.T) {
	t.Parallel()

	base := []CoverageSample{
		sample("A", "p1", "p2"),
		sample("B", "p3"),
	}
	resBase, err := Plan(base, 1.0)
	require.NoError(t, err)

	grown := append(append([]CoverageSample{}, base...), sample("C", "p4"))
	resGrown, err := Plan(grown, 1.0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, resGrown.Achieved, resBase.Achieved)
	require.LessOrEqual(t, len(resGrown.Selected), len(grown))
}

func TestPlanClampsTarget(t *testing.T) {
	t.Parallel()

	res, err := Plan([]CoverageSample{sample("A", "p1")}, 1.7)
	require.NoError(t, err)
	require.Equal(t, 1.0, res.Target)
	require.InDelta(t, 1.0, res.Achieved, 1e-9)
}
