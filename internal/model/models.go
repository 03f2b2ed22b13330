package model

// IANA protocol numbers used by the traffic type catalog. ProtocolAll is the
// AWS wildcard for "every protocol". ProtocolUnnumbered marks a protocol
// given by a name outside the protocol table; the name travels in
// ProtocolName instead.
const (
	ProtocolUnnumbered = -2
	ProtocolAll        = -1
	ProtocolICMP       = 1
	ProtocolTCP        = 6
	ProtocolUDP        = 17
	ProtocolICMPv6     = 58
)

// TrafficType is the canonical unit of "what traffic": a port range on a
// protocol. Two traffic types are equal iff all three fields match.
type TrafficType struct {
	FromPort int
	ToPort   int
	Protocol int
}

type TierKind string

const (
	KindSecurityGroup   TierKind = "security_group"
	KindSubnetGroup     TierKind = "subnet_group"
	KindIPv6SubnetGroup TierKind = "ipv6_subnet_group"
	KindCIDRBlock       TierKind = "cidr_block"
	KindIPv6CIDRBlock   TierKind = "ipv6_cidr_block"
	KindPrefixList      TierKind = "prefix_list"
)

// NetworkTier is a named network entity that rules reference as source or
// destination. The set of implementations is closed.
type NetworkTier interface {
	TierName() string
	Kind() TierKind
	networkTier()
}

// OwnerTier is a tier that owns a rule group: a security group or a subnet group.
type OwnerTier interface {
	NetworkTier
	// SelfTraffic is the tier-level allow_all_to_self setting; nil defers to
	// the document default.
	SelfTraffic() *bool
}

type SecurityGroup struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	SecurityGroupID string `yaml:"security_group_id"`
	AllowAllToSelf  *bool  `yaml:"allow_all_to_self"`
}

func (g SecurityGroup) TierName() string   { return g.Name }
func (g SecurityGroup) Kind() TierKind     { return KindSecurityGroup }
func (g SecurityGroup) SelfTraffic() *bool { return g.AllowAllToSelf }
func (SecurityGroup) networkTier()         {}

type SubnetGroup struct {
	Name           string   `yaml:"name"`
	SubnetIDs      []string `yaml:"subnet_ids"`
	NetworkACLID   string   `yaml:"network_acl_id"`
	AllowAllToSelf *bool    `yaml:"allow_all_to_self"`
	Public         bool     `yaml:"public"`
	NATGateway     bool     `yaml:"nat_gateway"`
	IPv6           bool     `yaml:"ipv6"`
}

func (g SubnetGroup) TierName() string   { return g.Name }
func (g SubnetGroup) Kind() TierKind     { return KindSubnetGroup }
func (g SubnetGroup) SelfTraffic() *bool { return g.AllowAllToSelf }
func (SubnetGroup) networkTier()         {}

// IPv6SubnetGroup is a subnet group re-tagged so a renderer addresses its
// IPv6 CIDR blocks instead of the IPv4 ones.
type IPv6SubnetGroup struct {
	SubnetGroup
}

func (IPv6SubnetGroup) Kind() TierKind { return KindIPv6SubnetGroup }

type CIDRBlock struct {
	Name       string   `yaml:"name"`
	CIDRBlocks []string `yaml:"cidr_blocks"`
}

func (b CIDRBlock) TierName() string { return b.Name }
func (CIDRBlock) Kind() TierKind     { return KindCIDRBlock }
func (CIDRBlock) networkTier()       {}

type IPv6CIDRBlock struct {
	Name           string   `yaml:"name"`
	IPv6CIDRBlocks []string `yaml:"ipv6_cidr_blocks"`
}

func (b IPv6CIDRBlock) TierName() string { return b.Name }
func (IPv6CIDRBlock) Kind() TierKind     { return KindIPv6CIDRBlock }
func (IPv6CIDRBlock) networkTier()       {}

type PrefixList struct {
	Name          string   `yaml:"name"`
	PrefixListIDs []string `yaml:"prefix_list_ids"`
}

func (l PrefixList) TierName() string { return l.Name }
func (PrefixList) Kind() TierKind     { return KindPrefixList }
func (PrefixList) networkTier()       {}

// RawTrafficRule is a traffic rule as authored, in shorthand form.
type RawTrafficRule struct {
	Source      NameList      `yaml:"source"`
	Destination NameList      `yaml:"destination"`
	Port        PortList      `yaml:"port"`
	Protocol    *ProtocolSpec `yaml:"protocol"`
	TrafficType NameList      `yaml:"traffic_type"`
	Description string        `yaml:"description"`
}

// ExpandedTrafficRule is one concrete (source, destination, traffic type)
// tuple produced by expansion.
type ExpandedTrafficRule struct {
	Source          NetworkTier
	Destination     NetworkTier
	FromPort        int
	ToPort          int
	Protocol        int
	ProtocolName    string
	TrafficTypeName string
	Description     string
}

type Direction string

const (
	Ingress Direction = "ingress"
	Egress  Direction = "egress"
)

// DirectionalRule is an expanded rule seen from one owning tier.
type DirectionalRule struct {
	ExpandedTrafficRule
	Direction        Direction
	NetworkTier      NetworkTier
	OtherNetworkTier NetworkTier
	RuleName         string
	RuleDescription  string
}

type RuleGroup struct {
	Tier  OwnerTier
	Rules []DirectionalRule
}

// GroupedRules holds one group per owning tier in declaration order.
type GroupedRules []RuleGroup

// Lookup returns the rules owned by the named tier.
func (g GroupedRules) Lookup(name string) ([]DirectionalRule, bool) {
	for _, group := range g {
		if group.Tier.TierName() == name {
			return group.Rules, true
		}
	}
	return nil, false
}

// Result is the output of a compilation. NetworkTiers are the tiers the
// rules were resolved against, after any CIDR consolidation.
type Result struct {
	ExpandedTrafficRules []ExpandedTrafficRule
	GroupedTrafficRules  GroupedRules
	NetworkTiers         NetworkTiers
}

type NetworkTiers struct {
	SecurityGroups []SecurityGroup `yaml:"security_groups"`
	SubnetGroups   []SubnetGroup   `yaml:"subnet_groups"`
	CIDRBlocks     []CIDRBlock     `yaml:"cidr_blocks"`
	IPv6CIDRBlocks []IPv6CIDRBlock `yaml:"ipv6_cidr_blocks"`
	PrefixLists    []PrefixList    `yaml:"prefix_lists"`
}

// Config is a validated policy document.
type Config struct {
	NetworkTiers          NetworkTiers     `yaml:"network_tiers"`
	TrafficRules          []RawTrafficRule `yaml:"traffic_rules"`
	AllowAllToSelf        *bool            `yaml:"allow_all_to_self"`
	AllowEphemeral        *bool            `yaml:"allow_ephemeral"`
	IPv6                  bool             `yaml:"ipv6"`
	ConsolidateCIDRBlocks bool             `yaml:"consolidate_cidr_blocks"`
}

// SelfTrafficDefault reports the document-wide allow_all_to_self value (default true).
func (c *Config) SelfTrafficDefault() bool {
	return c.AllowAllToSelf == nil || *c.AllowAllToSelf
}

// EphemeralEnabled reports the allow_ephemeral value (default true).
func (c *Config) EphemeralEnabled() bool {
	return c.AllowEphemeral == nil || *c.AllowEphemeral
}

// Flow is a concrete connection to check against a compiled rule set.
// Source and Destination are tier names or IPv4 addresses.
type Flow struct {
	Source      string
	Destination string
	Port        int
	Protocol    int
}

type Verdict struct {
	Flow        Flow
	Decision    string // "ALLOW", "DENY"
	MatchedRule string
	Reason      string
}

// Bool returns a pointer to b, for optional settings.
func Bool(b bool) *bool {
	return &b
}
