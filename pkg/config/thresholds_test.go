package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchlist(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single code", raw: "T1059", want: []string{"T1059"}},
		{name: "uppercases and trims", raw: " t1059 , t1003 ", want: []string{"T1059", "T1003"}},
		{name: "drops empty entries", raw: "T1059,,  ,T1003", want: []string{"T1059", "T1003"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := ParseWatchlist(tt.raw)
			assert.Len(t, set, len(tt.want))
			for _, code := range tt.want {
				assert.Contains(t, set, code)
			}
		})
	}
}

func TestParseTacticOverrides(t *testing.T) {
	t.Run("valid entries", func(t *testing.T) {
		overrides, skipped := ParseTacticOverrides("execution:2/1, Credential-Access:4/3")
		require.Empty(t, skipped)
		assert.Equal(t, Threshold{MinSightings: 2, MinDistinctDays: 1}, overrides["execution"])
		assert.Equal(t, Threshold{MinSightings: 4, MinDistinctDays: 3}, overrides["credential-access"])
	})

	t.Run("components clamped to one", func(t *testing.T) {
		overrides, skipped := ParseTacticOverrides("persistence:0/-2")
		require.Empty(t, skipped)
		assert.Equal(t, Threshold{MinSightings: 1, MinDistinctDays: 1}, overrides["persistence"])
	})

	t.Run("malformed entries skipped", func(t *testing.T) {
		tests := []struct {
			name string
			raw  string
		}{
			{name: "missing colon", raw: "execution 2/1"},
			{name: "missing slash", raw: "execution:21"},
			{name: "non-numeric sightings", raw: "execution:two/1"},
			{name: "non-numeric days", raw: "execution:2/one"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				overrides, skipped := ParseTacticOverrides(tt.raw)
				assert.Empty(t, overrides)
				assert.Len(t, skipped, 1)
			})
		}
	})

	t.Run("malformed entry does not poison the rest", func(t *testing.T) {
		overrides, skipped := ParseTacticOverrides("bogus,execution:2/1")
		assert.Len(t, skipped, 1)
		assert.Equal(t, Threshold{MinSightings: 2, MinDistinctDays: 1}, overrides["execution"])
	})

	t.Run("empty input", func(t *testing.T) {
		overrides, skipped := ParseTacticOverrides("")
		assert.Empty(t, overrides)
		assert.Empty(t, skipped)
	})
}

func TestResolve(t *testing.T) {
	thresholds := Thresholds{
		MinSightings:             3,
		MinDistinctDays:          2,
		Watchlist:                ParseWatchlist("T1059"),
		WatchlistMinSightings:    1,
		WatchlistMinDistinctDays: 1,
		TacticOverrides: map[string]Threshold{
			"execution":         {MinSightings: 2, MinDistinctDays: 2},
			"credential-access": {MinSightings: 4, MinDistinctDays: 1},
		},
	}

	t.Run("watchlist wins over overrides", func(t *testing.T) {
		minS, minD, reason := thresholds.Resolve("t1059", "execution")
		assert.Equal(t, 1, minS)
		assert.Equal(t, 1, minD)
		assert.Equal(t, ReasonWatchlist, reason)
	})

	t.Run("single tactic override", func(t *testing.T) {
		minS, minD, reason := thresholds.Resolve("T1204", "execution")
		assert.Equal(t, 2, minS)
		assert.Equal(t, 2, minD)
		assert.Equal(t, ReasonTacticOverride, reason)
	})

	t.Run("multiple overrides combine component-wise", func(t *testing.T) {
		minS, minD, reason := thresholds.Resolve("T1003", "credential-access, execution")
		assert.Equal(t, 2, minS)
		assert.Equal(t, 1, minD)
		assert.Equal(t, ReasonTacticOverride, reason)
	})

	t.Run("tactic match is case-insensitive", func(t *testing.T) {
		_, _, reason := thresholds.Resolve("T1204", "Execution")
		assert.Equal(t, ReasonTacticOverride, reason)
	})

	t.Run("default when nothing matches", func(t *testing.T) {
		minS, minD, reason := thresholds.Resolve("T9999", "impact")
		assert.Equal(t, 3, minS)
		assert.Equal(t, 2, minD)
		assert.Equal(t, ReasonDefault, reason)
	})

	t.Run("default on empty tactics", func(t *testing.T) {
		_, _, reason := thresholds.Resolve("T9999", "")
		assert.Equal(t, ReasonDefault, reason)
	})
}
