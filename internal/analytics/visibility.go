// Package analytics scores brand visibility and aggregates competitor presence.
package analytics

import (
	"math"

	"github.com/brandlens/visibility-bot/internal/models"
)

const (
	positionWeight = 0.7
	coverageWeight = 0.3
	// free-text answers reach full coverage at this many brand occurrences
	textCoverageCap = 3
)

// VisibilityScore estimates how visible brand is across successful provider
// results, in [0,100] rounded to one decimal. Each result scores 70% on the
// best rank of the brand and 30% on how many items mention it; failed
// results are ignored and the rest are averaged.
func VisibilityScore(results []models.ProviderResult, brand string) float64 {
	matcher := newBrandMatcher(brand)

	var total float64
	var counted int
	for _, r := range results {
		if r.Status != models.ResultCompleted || !r.HasBody() {
			continue
		}
		total += resultScore(r, matcher)
		counted++
	}

	if counted == 0 {
		return 0
	}
	return round1(clamp(total/float64(counted), 0, 100))
}

func resultScore(r models.ProviderResult, m *brandMatcher) float64 {
	if n := len(r.Results); n > 0 {
		best := 0
		matches := 0
		for i, item := range r.Results {
			if !m.inItem(item) {
				continue
			}
			matches++
			if best == 0 {
				best = i + 1
			}
		}
		if matches == 0 {
			return 0
		}
		position := 100 * float64(n-best+1) / float64(n)
		coverage := 100 * float64(matches) / float64(n)
		return positionWeight*position + coverageWeight*coverage
	}

	text := r.Response
	offset := m.offset(text)
	if offset < 0 {
		return 0
	}
	position := 100 * (1 - float64(offset)/float64(len(text)))
	coverage := 100 * math.Min(float64(m.count(text)), textCoverageCap) / textCoverageCap
	return positionWeight*position + coverageWeight*coverage
}
