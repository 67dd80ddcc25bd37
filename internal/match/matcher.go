package match

import (
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Result is the outcome of scoring one key against the registry keys.
// Qualified holds iff the best score reached the threshold.
type Result struct {
	Key       string
	Score     int
	Qualified bool
	Exact     bool
	Fuzzy     bool
}

// Best computes a partial-ratio similarity between key and every registry
// key and returns the true maximum. Ties break on registry order: the
// first-encountered key wins, so the result is deterministic for a given
// snapshot. There is deliberately no early exit on a score of 100 — a
// later key could still tie the maximum, and the first-encountered winner
// must not depend on scan shortcuts.
//
// An empty key never qualifies: the empty string is not a substring match
// of any registered plate in a meaningful sense, and the producer sends
// empty text when recognition found nothing.
func Best(key string, registryKeys []string, threshold int) Result {
	if key == "" || len(registryKeys) == 0 {
		return Result{}
	}

	best := -1
	bestKey := ""
	for _, rk := range registryKeys {
		if rk == "" {
			continue
		}
		score := fuzzy.PartialRatio(key, rk)
		if score > best {
			best = score
			bestKey = rk
		}
	}
	if best < 0 {
		return Result{}
	}

	res := Result{Key: bestKey, Score: best}
	if best >= threshold {
		res.Qualified = true
		res.Exact = best == 100
		res.Fuzzy = best < 100
	}
	return res
}
