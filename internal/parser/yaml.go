package parser

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/model"
	"network-tier-rules/pkg/ipv4"
)

var ErrInvalidConfig = errors.New("invalid config")

// LoadConfig decodes a policy document and validates it for variant.
// Unknown keys are rejected.
func LoadConfig(r io.Reader, variant engine.Variant) (*model.Config, error) {
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)

	var cfg model.Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := Validate(&cfg, variant); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural rules a document must meet before
// compilation. Tier references inside rules are checked by the engine.
func Validate(cfg *model.Config, variant engine.Variant) error {
	tiers := cfg.NetworkTiers
	switch variant.Owner {
	case model.KindSecurityGroup:
		if len(tiers.SubnetGroups) > 0 {
			return invalid("subnet_groups are not allowed in a %s document", variant.Name)
		}
		if len(tiers.SecurityGroups) == 0 {
			return invalid("network_tiers.security_groups must contain at least one entry")
		}
	case model.KindSubnetGroup:
		if len(tiers.SecurityGroups) > 0 {
			return invalid("security_groups are not allowed in a %s document", variant.Name)
		}
		if len(tiers.PrefixLists) > 0 {
			return invalid("prefix_lists are not allowed in a %s document", variant.Name)
		}
		if len(tiers.SubnetGroups) == 0 {
			return invalid("network_tiers.subnet_groups must contain at least one entry")
		}
	}

	if err := validateTierNames(tiers); err != nil {
		return err
	}
	for _, block := range tiers.CIDRBlocks {
		for _, cidr := range block.CIDRBlocks {
			if !ipv4.ValidCIDR(cidr) {
				return fmt.Errorf("%w: cidr block %s: %w", ErrInvalidConfig, block.Name, ipv4.ErrInvalidCIDR)
			}
		}
	}

	if len(cfg.TrafficRules) == 0 {
		return invalid("traffic_rules must contain at least one entry")
	}
	for i, rule := range cfg.TrafficRules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("traffic rule %d: %w", i, err)
		}
	}
	return nil
}

func validateTierNames(tiers model.NetworkTiers) error {
	seen := make(map[string]string)
	check := func(kind model.TierKind, name string) error {
		if name == "" {
			return invalid("%s without a name", kind)
		}
		if prev, ok := seen[name]; ok {
			return invalid("duplicate tier name %q (%s and %s)", name, prev, kind)
		}
		seen[name] = string(kind)
		return nil
	}

	for _, g := range tiers.SecurityGroups {
		if err := check(g.Kind(), g.Name); err != nil {
			return err
		}
	}
	for _, g := range tiers.SubnetGroups {
		if err := check(g.Kind(), g.Name); err != nil {
			return err
		}
	}
	for _, b := range tiers.CIDRBlocks {
		if err := check(b.Kind(), b.Name); err != nil {
			return err
		}
	}
	for _, b := range tiers.IPv6CIDRBlocks {
		if err := check(b.Kind(), b.Name); err != nil {
			return err
		}
	}
	for _, l := range tiers.PrefixLists {
		if err := check(l.Kind(), l.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(rule model.RawTrafficRule) error {
	if rule.Source.IsZero() {
		return invalid("source is required")
	}
	if rule.Destination.IsZero() {
		return invalid("destination is required")
	}
	for _, p := range rule.Port {
		if p.From < 0 || p.To > 65535 || p.From > p.To {
			return invalid("port range %d-%d is out of bounds", p.From, p.To)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
