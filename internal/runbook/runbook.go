// Package runbook matches scraped metric families against remediation
// rules. The watcher feeds it counter deltas between polls; a rule
// fires when the delta of its selected series crosses the threshold.
package runbook

import (
	dto "github.com/prometheus/client_model/go"
)

// Action is a remediation step proposed to the external ops tools
// endpoint. Tools are executed elsewhere; this package only proposes.
type Action struct {
	Tool   string            `json:"tool"`
	Params map[string]string `json:"params,omitempty"`
}

type Rule struct {
	ID    string
	Title string

	// Metric selects a counter family; Labels is a subset match on the
	// series labels (empty matches every series of the family).
	Metric string
	Labels map[string]string

	// Threshold is the minimum counter increase per poll interval.
	Threshold float64

	Steps []Action

	// MaxActions caps how many steps may be proposed per firing.
	MaxActions int
}

// DefaultRules mirror the ops runbooks: dependency failures at the HTTP
// boundary, cache errors, and store errors.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "rb.http.dependency",
			Title:     "Requests failing with dependency errors",
			Metric:    "http_requests_total",
			Labels:    map[string]string{"code": "502"},
			Threshold: 5,
			Steps: []Action{
				{Tool: "restart_service", Params: map[string]string{"reason": "dependency errors"}},
			},
			MaxActions: 1,
		},
		{
			ID:        "rb.redis.errors",
			Title:     "Redis unreachable/errors",
			Metric:    "redis_ops_total",
			Labels:    map[string]string{"result": "error"},
			Threshold: 10,
			Steps: []Action{
				{Tool: "patch_env", Params: map[string]string{"REDIS_SOCKET_TIMEOUT_MS": "800"}},
			},
			MaxActions: 1,
		},
		{
			ID:        "rb.db.errors",
			Title:     "MySQL latency/connection issues",
			Metric:    "db_ops_total",
			Labels:    map[string]string{"result": "error"},
			Threshold: 10,
			Steps: []Action{
				{Tool: "scale_service", Params: map[string]string{"replicas": "3"}},
			},
			MaxActions: 1,
		},
	}
}

// Finding is a fired rule with the observed counter increase.
type Finding struct {
	Rule  Rule
	Delta float64
}

// Sum adds up the counter values of every series in the family whose
// labels contain the rule's label set.
func (r Rule) Sum(family *dto.MetricFamily) float64 {
	if family == nil {
		return 0
	}

	var sum float64
	for _, m := range family.GetMetric() {
		if !labelsMatch(m, r.Labels) {
			continue
		}
		if c := m.GetCounter(); c != nil {
			sum += c.GetValue()
		}
	}
	return sum
}

// Evaluate compares each rule's current sum against the previous poll
// and returns the rules whose increase meets the threshold. The updated
// sums are returned for the next round.
func Evaluate(families map[string]*dto.MetricFamily, rules []Rule, previous map[string]float64) ([]Finding, map[string]float64) {
	current := make(map[string]float64, len(rules))
	var findings []Finding

	for _, rule := range rules {
		sum := rule.Sum(families[rule.Metric])
		current[rule.ID] = sum

		last, seen := previous[rule.ID]
		if !seen {
			// First poll only establishes the baseline.
			continue
		}

		delta := sum - last
		if delta >= rule.Threshold {
			findings = append(findings, Finding{Rule: rule, Delta: delta})
		}
	}

	return findings, current
}

// Proposals returns the actions a finding is allowed to propose,
// honoring the rule's guardrail cap.
func (f Finding) Proposals() []Action {
	steps := f.Rule.Steps
	if f.Rule.MaxActions > 0 && len(steps) > f.Rule.MaxActions {
		steps = steps[:f.Rule.MaxActions]
	}
	return steps
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}

	have := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		have[lp.GetName()] = lp.GetValue()
	}

	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
