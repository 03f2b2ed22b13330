package engine

import (
	"fmt"
	"strings"

	"network-tier-rules/internal/model"
	"network-tier-rules/pkg/ipv4"
)

// Variant selects which tiers own rule groups and which optional pipeline
// stages run. Security group documents and network ACL documents share the
// same engine.
type Variant struct {
	Name string
	// Owner is the tier kind that owns rule groups.
	Owner model.TierKind
	// OwnerKeyword is the aggregate keyword that selects every owner tier.
	OwnerKeyword string
	// Ephemeral enables return-traffic and NAT augmentation for stateless ACLs.
	Ephemeral bool
	// IPv6Duplicates re-emits subnet group rules against their IPv6 blocks.
	IPv6Duplicates bool
	// RuleFilePrefix names the per-tier output files.
	RuleFilePrefix string
}

var (
	SecurityGroupVariant = Variant{
		Name:           "security-group",
		Owner:          model.KindSecurityGroup,
		OwnerKeyword:   "all_security_groups",
		RuleFilePrefix: "security_group_rules_",
	}
	NetworkACLVariant = Variant{
		Name:           "network-acl",
		Owner:          model.KindSubnetGroup,
		OwnerKeyword:   "all_subnet_groups",
		Ephemeral:      true,
		IPv6Duplicates: true,
		RuleFilePrefix: "network_acl_rules_",
	}
)

func VariantByName(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case SecurityGroupVariant.Name, "sg":
		return SecurityGroupVariant, nil
	case NetworkACLVariant.Name, "acl":
		return NetworkACLVariant, nil
	default:
		return Variant{}, fmt.Errorf("unknown variant: %s", name)
	}
}

// Owners returns the owning tiers of the variant in declaration order.
func (v Variant) Owners(tiers model.NetworkTiers) []model.OwnerTier {
	var owners []model.OwnerTier
	switch v.Owner {
	case model.KindSecurityGroup:
		for _, g := range tiers.SecurityGroups {
			owners = append(owners, g)
		}
	case model.KindSubnetGroup:
		for _, g := range tiers.SubnetGroups {
			owners = append(owners, g)
		}
	}
	return owners
}

// Compile runs the whole pipeline over a validated document: self-traffic
// injection, ephemeral augmentation, expansion, deduplication and grouping.
// It has no side effects; any error aborts the run without partial output.
func Compile(cfg *model.Config, v Variant) (*model.Result, error) {
	tiers := cfg.NetworkTiers
	if cfg.ConsolidateCIDRBlocks {
		consolidated, err := ConsolidateCIDRBlocks(tiers)
		if err != nil {
			return nil, err
		}
		tiers = consolidated
	}

	resolver := NewResolver(tiers, v)

	rules := make([]model.RawTrafficRule, 0, len(cfg.TrafficRules))
	rules = append(rules, cfg.TrafficRules...)
	rules = append(rules, SelfTrafficRules(resolver.Owners(), cfg.SelfTrafficDefault())...)

	if v.Ephemeral && cfg.EphemeralEnabled() {
		rules = AugmentEphemeral(rules, tiers)
	}

	expanded, err := NewExpander(resolver).Expand(rules)
	if err != nil {
		return nil, err
	}
	expanded = Dedup(expanded)

	grouped := Group(expanded, resolver.Owners(), GroupOptions{
		IPv6Duplicates: v.IPv6Duplicates,
		IPv6:           cfg.IPv6,
	})

	return &model.Result{
		ExpandedTrafficRules: expanded,
		GroupedTrafficRules:  grouped,
		NetworkTiers:         tiers,
	}, nil
}

// ConsolidateCIDRBlocks returns a copy of tiers where every CIDR block tier
// lists the smallest equivalent set of blocks.
func ConsolidateCIDRBlocks(tiers model.NetworkTiers) (model.NetworkTiers, error) {
	blocks := make([]model.CIDRBlock, len(tiers.CIDRBlocks))
	for i, block := range tiers.CIDRBlocks {
		cidrs, err := ipv4.ConsolidateCIDRs(block.CIDRBlocks)
		if err != nil {
			return model.NetworkTiers{}, fmt.Errorf("cidr block %s: %w", block.Name, err)
		}
		blocks[i] = model.CIDRBlock{Name: block.Name, CIDRBlocks: cidrs}
	}
	out := tiers
	out.CIDRBlocks = blocks
	return out, nil
}
