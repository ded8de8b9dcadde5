package engagement

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// Metric key building blocks.
const (
	CategoryOther = "other"

	MetricTimePrefix = "time" // productive seconds: "time-<category>"
	MetricIdlePrefix = "idle" // unproductive seconds: "idle-<category>"
	MetricAppsUsed   = "apps-used-today"
)

// minFuzzyKeyword keeps short keywords ("vim", "zed") out of fuzzy matching,
// where they would match almost any name.
const minFuzzyKeyword = 5

// MetricRouter maps an activity tick to metric keys. It holds only the
// immutable rule set and is safe for concurrent use.
type MetricRouter struct {
	rules []AppRule
}

// NewMetricRouter builds a router over category rules, checked in order.
func NewMetricRouter(rules []AppRule) *MetricRouter {
	return &MetricRouter{rules: rules}
}

// Route returns the metric keys a tick counts towards.
func (r *MetricRouter) Route(appName string, productive bool) []string {
	category := r.Category(appName)
	if productive {
		return []string{MetricTimePrefix + "-" + category}
	}
	return []string{MetricIdlePrefix + "-" + category}
}

// Category classifies an app name. Keywords match as case-insensitive
// substrings first; failing that, the best fuzzy subsequence match wins.
func (r *MetricRouter) Category(appName string) string {
	name := strings.ToLower(strings.TrimSpace(appName))
	if name == "" {
		return CategoryOther
	}

	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(name, kw) {
				return rule.Category
			}
		}
	}

	best, bestScore := CategoryOther, 0
	target := []string{name}
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if len(kw) < minFuzzyKeyword {
				continue
			}
			matches := fuzzy.Find(kw, target)
			if len(matches) == 0 {
				continue
			}
			if best == CategoryOther || matches[0].Score > bestScore {
				best, bestScore = rule.Category, matches[0].Score
			}
		}
	}
	return best
}
