package engine

import "network-tier-rules/internal/model"

// ruleKey identifies an expanded rule. Tier names are unique within a
// document, so kind and name stand in for the whole tier value.
type ruleKey struct {
	sourceKind      model.TierKind
	source          string
	destinationKind model.TierKind
	destination     string
	fromPort        int
	toPort          int
	protocol        int
	trafficType     string
}

func keyOf(rule model.ExpandedTrafficRule) ruleKey {
	return ruleKey{
		sourceKind:      rule.Source.Kind(),
		source:          rule.Source.TierName(),
		destinationKind: rule.Destination.Kind(),
		destination:     rule.Destination.TierName(),
		fromPort:        rule.FromPort,
		toPort:          rule.ToPort,
		protocol:        rule.Protocol,
		trafficType:     rule.TrafficTypeName,
	}
}

// Dedup drops rules equal to an earlier one, keeping first-seen order.
func Dedup(rules []model.ExpandedTrafficRule) []model.ExpandedTrafficRule {
	seen := make(map[ruleKey]bool, len(rules))
	out := make([]model.ExpandedTrafficRule, 0, len(rules))
	for _, rule := range rules {
		key := keyOf(rule)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rule)
	}
	return out
}
