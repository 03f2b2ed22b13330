package engine

import (
	"fmt"
	"regexp"
	"strings"

	"network-tier-rules/internal/model"
)

var nonSlugRegex = regexp.MustCompile(`[^a-z0-9]+`)

type GroupOptions struct {
	// IPv6Duplicates enables IPv6 re-emission of subnet group rules.
	IPv6Duplicates bool
	// IPv6 is the document-wide ipv6 flag.
	IPv6 bool
}

// Slug lower-cases s and collapses every run of other characters to "_".
func Slug(s string) string {
	return nonSlugRegex.ReplaceAllString(strings.ToLower(s), "_")
}

// RuleName is the synthesized name of rule as seen in direction.
func RuleName(rule model.ExpandedTrafficRule, direction model.Direction) string {
	return Slug(fmt.Sprintf("allow_%s_%s_from_%s_to_%s",
		rule.TrafficTypeName, direction, rule.Source.TierName(), rule.Destination.TierName()))
}

func ruleDescription(rule model.ExpandedTrafficRule, direction model.Direction, prefix string) string {
	if rule.Description != "" {
		return rule.Description
	}
	return fmt.Sprintf("Allow %s%s %s from %s to %s",
		prefix, rule.TrafficTypeName, direction, rule.Source.TierName(), rule.Destination.TierName())
}

// Group splits rules per owning tier: ingress rules where the owner is the
// destination, then egress rules where it is the source. Expansion order is
// kept within each direction.
func Group(rules []model.ExpandedTrafficRule, owners []model.OwnerTier, opts GroupOptions) model.GroupedRules {
	grouped := make(model.GroupedRules, 0, len(owners))
	for _, owner := range owners {
		var ingress, egress []model.DirectionalRule
		for _, rule := range rules {
			if sameTier(rule.Destination, owner) {
				ingress = append(ingress, directional(rule, model.Ingress, owner, rule.Source, opts)...)
			}
			if sameTier(rule.Source, owner) {
				egress = append(egress, directional(rule, model.Egress, owner, rule.Destination, opts)...)
			}
		}
		grouped = append(grouped, model.RuleGroup{
			Tier:  owner,
			Rules: append(ingress, egress...),
		})
	}
	return grouped
}

func sameTier(a, b model.NetworkTier) bool {
	return a.Kind() == b.Kind() && a.TierName() == b.TierName()
}

// directional returns rule as seen by owner, followed by its IPv6 duplicate
// when one applies.
func directional(rule model.ExpandedTrafficRule, direction model.Direction, owner, other model.NetworkTier, opts GroupOptions) []model.DirectionalRule {
	out := []model.DirectionalRule{{
		ExpandedTrafficRule: rule,
		Direction:           direction,
		NetworkTier:         owner,
		OtherNetworkTier:    other,
		RuleName:            RuleName(rule, direction),
		RuleDescription:     ruleDescription(rule, direction, ""),
	}}

	if !opts.IPv6Duplicates {
		return out
	}
	subnet, ok := other.(model.SubnetGroup)
	if !ok || !(opts.IPv6 || subnet.IPv6) {
		return out
	}
	return append(out, model.DirectionalRule{
		ExpandedTrafficRule: rule,
		Direction:           direction,
		NetworkTier:         owner,
		OtherNetworkTier:    model.IPv6SubnetGroup{SubnetGroup: subnet},
		RuleName:            Slug("allow_ipv6_" + strings.TrimPrefix(RuleName(rule, direction), "allow_")),
		RuleDescription:     ruleDescription(rule, direction, "IPV6 "),
	})
}
