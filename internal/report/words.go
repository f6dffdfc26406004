package report

import "github.com/verte-zerg/tuispeak/internal/model"

// TopProblemWords returns the n words with the most recorded errors.
func TopProblemWords(aggs []model.WordAggregate, n int) []string {
	if n <= 0 || len(aggs) == 0 {
		return nil
	}
	sorted := sortWords(aggs)
	n = min(n, len(sorted))
	out := make([]string, 0, n)
	for _, agg := range sorted[:n] {
		out = append(out, agg.Word)
	}
	return out
}

// SelectWeakWords returns the set of the top problem words. A top of zero or
// less selects every word with at least one error.
func SelectWeakWords(aggs []model.WordAggregate, top int) map[string]struct{} {
	weak := map[string]struct{}{}
	if top <= 0 {
		top = len(aggs)
	}
	for _, w := range TopProblemWords(aggs, top) {
		weak[w] = struct{}{}
	}
	return weak
}
