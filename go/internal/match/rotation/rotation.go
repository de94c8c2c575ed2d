// Package rotation computes fair substitution proposals from accumulated
// playing time.
//
// The selector is greedy: it swaps the most-played eligible field players
// for the least-played bench players. It does not look ahead across the
// remaining rotations of a match.
package rotation

import (
	"sort"

	"github.com/mcdev12/wissel/go/internal/models"
)

// Input is the match state the selector reads. It is never mutated.
type Input struct {
	Field       []string
	Bench       []string
	PlaySeconds map[string]int
	// Keeper is exempt from rotation. Empty means no keeper.
	Keeper string
	// Roster orders ties. Players missing from it sort after those present,
	// in the order they appear in Field or Bench.
	Roster []string
}

// Propose returns up to min(|bench|, |eligible field|) swaps. Out holds the
// eligible field players with the most play seconds (descending), In the
// bench players with the fewest (ascending).
func Propose(in Input) models.SubProposal {
	if len(in.Bench) == 0 {
		return models.SubProposal{}
	}

	eligible := make([]string, 0, len(in.Field))
	for _, p := range in.Field {
		if in.Keeper != "" && p == in.Keeper {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return models.SubProposal{}
	}

	n := len(in.Bench)
	if len(eligible) < n {
		n = len(eligible)
	}

	order := rosterIndex(in.Roster)
	out := rank(eligible, in.PlaySeconds, order, true)
	inn := rank(in.Bench, in.PlaySeconds, order, false)

	return models.SubProposal{
		Out: out[:n],
		In:  inn[:n],
	}
}

func rosterIndex(roster []string) map[string]int {
	idx := make(map[string]int, len(roster))
	for i, p := range roster {
		if _, ok := idx[p]; !ok {
			idx[p] = i
		}
	}
	return idx
}

// rank returns a sorted copy of players. Ties keep roster order.
func rank(players []string, seconds map[string]int, order map[string]int, desc bool) []string {
	sorted := make([]string, len(players))
	copy(sorted, players)

	pos := func(p string) int {
		if i, ok := order[p]; ok {
			return i
		}
		return len(order)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := seconds[sorted[i]], seconds[sorted[j]]
		if a != b {
			if desc {
				return a > b
			}
			return a < b
		}
		return pos(sorted[i]) < pos(sorted[j])
	})
	return sorted
}
