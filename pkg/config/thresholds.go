package config

import (
	"strconv"
	"strings"
)

// Threshold selection reasons, reported alongside resolved thresholds.
const (
	ReasonWatchlist      = "watchlist"
	ReasonTacticOverride = "tactic_override"
	ReasonDefault        = "default"
)

// Threshold is one NEW-confirmation rule: minimum sightings and minimum
// distinct observation days, both inclusive.
type Threshold struct {
	MinSightings    int
	MinDistinctDays int
}

// Thresholds holds the confirmation rules for NEW intelligence events.
// Resolution order: watchlist code, then the most sensitive matching tactic
// override, then the defaults.
type Thresholds struct {
	MinSightings    int
	MinDistinctDays int

	Watchlist                map[string]struct{}
	WatchlistMinSightings    int
	WatchlistMinDistinctDays int

	TacticOverrides map[string]Threshold
}

// Resolve returns the thresholds in force for a technique, identified by its
// code and its comma-joined tactics string, plus the reason they apply.
// Tactic overrides combine component-wise: when several tactics match, the
// minimum of each component wins.
func (t Thresholds) Resolve(code, tactics string) (minSightings, minDistinctDays int, reason string) {
	if _, ok := t.Watchlist[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t.WatchlistMinSightings, t.WatchlistMinDistinctDays, ReasonWatchlist
	}

	matched := false
	for _, raw := range strings.Split(tactics, ",") {
		tactic := strings.ToLower(strings.TrimSpace(raw))
		if tactic == "" {
			continue
		}
		o, ok := t.TacticOverrides[tactic]
		if !ok {
			continue
		}
		if !matched {
			minSightings, minDistinctDays = o.MinSightings, o.MinDistinctDays
			matched = true
			continue
		}
		if o.MinSightings < minSightings {
			minSightings = o.MinSightings
		}
		if o.MinDistinctDays < minDistinctDays {
			minDistinctDays = o.MinDistinctDays
		}
	}
	if matched {
		return minSightings, minDistinctDays, ReasonTacticOverride
	}

	return t.MinSightings, t.MinDistinctDays, ReasonDefault
}

// ParseWatchlist parses a comma-separated list of technique codes into a
// lookup set. Codes are uppercased; empty entries are dropped.
func ParseWatchlist(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		code := strings.ToUpper(strings.TrimSpace(part))
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}

// ParseTacticOverrides parses "tactic:sightings/days,..." into an override
// table keyed by lowercase tactic. Entries missing the ':' or '/' separators
// or with non-numeric components are returned in skipped and otherwise
// ignored; numeric components are clamped to at least 1.
func ParseTacticOverrides(raw string) (map[string]Threshold, []string) {
	overrides := make(map[string]Threshold)
	var skipped []string
	for _, part := range strings.Split(raw, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		tactic, rest, ok := strings.Cut(entry, ":")
		if !ok {
			skipped = append(skipped, entry)
			continue
		}
		sightingsRaw, daysRaw, ok := strings.Cut(rest, "/")
		if !ok {
			skipped = append(skipped, entry)
			continue
		}
		sightings, err := strconv.Atoi(strings.TrimSpace(sightingsRaw))
		if err != nil {
			skipped = append(skipped, entry)
			continue
		}
		days, err := strconv.Atoi(strings.TrimSpace(daysRaw))
		if err != nil {
			skipped = append(skipped, entry)
			continue
		}
		overrides[strings.ToLower(strings.TrimSpace(tactic))] = Threshold{
			MinSightings:    max(1, sightings),
			MinDistinctDays: max(1, days),
		}
	}
	return overrides, skipped
}
