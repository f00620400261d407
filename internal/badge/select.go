// Package badge assigns win-tier roles.
//
// Select and Plan are pure. Queue serializes every role mutation through one
// worker so platform rate limits are respected across all guilds.
package badge

import "sort"

// Threshold grants RoleID once a member reaches Wins.
type Threshold struct {
	Wins   int
	RoleID string
}

// Select returns the threshold with the greatest floor not above wins.
func Select(thresholds []Threshold, wins int) (Threshold, bool) {
	var best Threshold
	found := false
	for _, th := range thresholds {
		if th.Wins <= wins && (!found || th.Wins > best.Wins) {
			best, found = th, true
		}
	}
	return best, found
}

// Plan is the set of role changes needed to move a member onto the target tier.
type Plan struct {
	Target string   // empty when wins are below every floor
	Add    string   // empty when the target is already held
	Remove []string // threshold roles held that are not the target
}

// Noop reports whether the plan needs no platform calls.
func (p Plan) Noop() bool { return p.Add == "" && len(p.Remove) == 0 }

// Compute builds the plan for a member holding held.
func Compute(thresholds []Threshold, held []string, wins int) Plan {
	var p Plan
	if th, ok := Select(thresholds, wins); ok {
		p.Target = th.RoleID
	}
	owned := make(map[string]struct{}, len(thresholds))
	for _, th := range thresholds {
		owned[th.RoleID] = struct{}{}
	}
	hasTarget := false
	for _, id := range held {
		if p.Target != "" && id == p.Target {
			hasTarget = true
			continue
		}
		if _, ok := owned[id]; ok {
			p.Remove = append(p.Remove, id)
		}
	}
	sort.Strings(p.Remove)
	if p.Target != "" && !hasTarget {
		p.Add = p.Target
	}
	return p
}
