package engine

import "network-tier-rules/internal/model"

// Ephemeral port range opened for return traffic through stateless ACLs.
const (
	EphemeralFromPort = 1024
	EphemeralToPort   = 65535
)

// SelfTrafficRules returns one all-traffic rule from each owner to itself.
// The tier setting wins when set; otherwise defaultAllow applies.
func SelfTrafficRules(owners []model.OwnerTier, defaultAllow bool) []model.RawTrafficRule {
	var rules []model.RawTrafficRule
	for _, owner := range owners {
		allow := defaultAllow
		if setting := owner.SelfTraffic(); setting != nil {
			allow = *setting
		}
		if !allow {
			continue
		}
		rules = append(rules, model.RawTrafficRule{
			Source:      model.One(owner.TierName()),
			Destination: model.One(owner.TierName()),
			TrafficType: model.One("all"),
		})
	}
	return rules
}

// AugmentEphemeral appends, for each rule in rules, a TCP return rule over
// the ephemeral range and, for private subnets talking to external blocks,
// a rule towards every NAT gateway subnet group. Only the rules passed in
// are augmented; the synthesized ones are not.
func AugmentEphemeral(rules []model.RawTrafficRule, tiers model.NetworkTiers) []model.RawTrafficRule {
	private := make(map[string]bool)
	var natGateways []string
	for _, g := range tiers.SubnetGroups {
		if !g.Public {
			private[g.Name] = true
		}
		if g.NATGateway {
			natGateways = append(natGateways, g.Name)
		}
	}
	external := make(map[string]bool)
	for _, b := range tiers.CIDRBlocks {
		external[b.Name] = true
	}
	for _, b := range tiers.IPv6CIDRBlocks {
		external[b.Name] = true
	}

	var synthesized []model.RawTrafficRule
	for _, rule := range rules {
		synthesized = append(synthesized, model.RawTrafficRule{
			Source:      rule.Destination,
			Destination: rule.Source,
			Port:        model.PortList{{From: EphemeralFromPort, To: EphemeralToPort}},
			Protocol:    model.ProtocolNumber(model.ProtocolTCP),
		})

		src, srcOK := rule.Source.Single()
		dst, dstOK := rule.Destination.Single()
		if srcOK && dstOK && private[src] && external[dst] {
			synthesized = append(synthesized, model.RawTrafficRule{
				Source:      rule.Source,
				Destination: model.Many(natGateways...),
				Port:        rule.Port,
				TrafficType: rule.TrafficType,
				Protocol:    rule.Protocol,
			})
		}
	}

	out := make([]model.RawTrafficRule, 0, len(rules)+len(synthesized))
	out = append(out, rules...)
	return append(out, synthesized...)
}
