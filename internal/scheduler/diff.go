package scheduler

import (
	"sort"

	"github.com/Mozart409/uptime-forge/internal/config"
)

// Plan is the minimal set of task operations that moves the live population
// onto a new endpoint set. Stop is applied before Start, so an endpoint
// whose config hash changed appears in both.
type Plan struct {
	Start []config.Endpoint
	Stop  []string
	Keep  []string
}

// Diff compares the live task population (name -> config hash) with a newly
// loaded endpoint set. Pure; the side-effecting apply lives in Reconcile.
func Diff(current map[string]uint64, next []config.Endpoint) Plan {
	var p Plan
	seen := make(map[string]bool, len(next))

	for _, ep := range next {
		seen[ep.Name] = true
		h, live := current[ep.Name]
		switch {
		case !live:
			p.Start = append(p.Start, ep)
		case h != ep.Hash():
			p.Stop = append(p.Stop, ep.Name)
			p.Start = append(p.Start, ep)
		default:
			p.Keep = append(p.Keep, ep.Name)
		}
	}
	for name := range current {
		if !seen[name] {
			p.Stop = append(p.Stop, name)
		}
	}

	sort.Slice(p.Start, func(i, j int) bool { return p.Start[i].Name < p.Start[j].Name })
	sort.Strings(p.Stop)
	sort.Strings(p.Keep)
	return p
}
