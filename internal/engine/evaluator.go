package engine

import (
	"network-tier-rules/internal/model"
	"network-tier-rules/pkg/ipv4"
)

type PrecheckStatus string

const (
	StatusSkip     PrecheckStatus = "SKIP"
	StatusAllowAll PrecheckStatus = "ALLOW_ALL"
	StatusExpand   PrecheckStatus = "EXPAND"
)

const (
	DecisionAllow   = "ALLOW"
	DecisionDeny    = "DENY"
	DecisionPartial = "PARTIAL"

	ReasonMatchRule        = "MATCH_RULE"
	ReasonImplicitDeny     = "IMPLICIT_DENY"
	ReasonPrecheckAllowAll = "PRECHECK_ALLOW_ALL"
	ReasonPrecheckDeny     = "PRECHECK_IMPLICIT_DENY"
	ReasonExpanded         = "EXPANDED"
	ReasonSampled          = "SAMPLED"
)

// Evaluator checks flows against a compiled rule set. Every expanded rule is
// an allow; anything no rule matches is denied.
type Evaluator struct {
	Rules []model.ExpandedTrafficRule
	// ranges caches the parsed blocks of each CIDR block tier.
	ranges map[string][]ipv4.Range
}

func NewEvaluator(result *model.Result) *Evaluator {
	e := &Evaluator{
		Rules:  result.ExpandedTrafficRules,
		ranges: make(map[string][]ipv4.Range),
	}
	e.buildRangeIndex()
	return e
}

func (e *Evaluator) buildRangeIndex() {
	for _, rule := range e.Rules {
		for _, tier := range []model.NetworkTier{rule.Source, rule.Destination} {
			block, ok := tier.(model.CIDRBlock)
			if !ok {
				continue
			}
			if _, done := e.ranges[block.Name]; done {
				continue
			}
			ranges := make([]ipv4.Range, 0, len(block.CIDRBlocks))
			for _, text := range block.CIDRBlocks {
				c, err := ipv4.ParseCIDR(text)
				if err != nil {
					continue
				}
				ranges = append(ranges, c.Range())
			}
			e.ranges[block.Name] = ranges
		}
	}
}

// Evaluate returns the verdict of the first rule matching flow, in expansion order.
func (e *Evaluator) Evaluate(flow model.Flow) model.Verdict {
	for _, rule := range e.Rules {
		if e.matches(rule, flow) {
			return model.Verdict{
				Flow:        flow,
				Decision:    DecisionAllow,
				MatchedRule: RuleName(rule, model.Ingress),
				Reason:      ReasonMatchRule,
			}
		}
	}
	return model.Verdict{
		Flow:     flow,
		Decision: DecisionDeny,
		Reason:   ReasonImplicitDeny,
	}
}

// Precheck classifies a whole source and destination CIDR pair at once:
// ALLOW_ALL when one rule covers both blocks entirely, EXPAND when the first
// rule touching them only covers part, SKIP when no rule applies.
func (e *Evaluator) Precheck(srcCIDR, dstCIDR string, port, protocol int) (PrecheckStatus, string) {
	src, err := ipv4.ParseCIDR(srcCIDR)
	if err != nil {
		return StatusExpand, ""
	}
	dst, err := ipv4.ParseCIDR(dstCIDR)
	if err != nil {
		return StatusExpand, ""
	}
	return e.precheck(src.Range(), dst.Range(), port, protocol)
}

func (e *Evaluator) precheck(src, dst ipv4.Range, port, protocol int) (PrecheckStatus, string) {
	for _, rule := range e.Rules {
		if !matchTraffic(rule, port, protocol) {
			continue
		}
		srcRel := e.relation(rule.Source, src)
		if srcRel == relNone {
			continue
		}
		dstRel := e.relation(rule.Destination, dst)
		if dstRel == relNone {
			continue
		}
		if srcRel != relFull || dstRel != relFull {
			return StatusExpand, RuleName(rule, model.Ingress)
		}
		return StatusAllowAll, RuleName(rule, model.Ingress)
	}
	return StatusSkip, ""
}

// Check evaluates a flow whose endpoints may also be CIDR blocks. When both
// endpoints are addresses or blocks, Precheck settles the flow if it can.
// Otherwise blocks of at most maxHosts addresses are expanded and larger
// ones are sampled at their first address. An expanded flow is ALLOW when
// every address pair is allowed, DENY when none is, and PARTIAL otherwise.
func (e *Evaluator) Check(flow model.Flow, maxHosts uint64) model.Verdict {
	srcRange, srcIsAddr, srcIsBlock := endpointRange(flow.Source)
	dstRange, dstIsAddr, dstIsBlock := endpointRange(flow.Destination)
	if !srcIsBlock && !dstIsBlock {
		return e.Evaluate(flow)
	}

	if (srcIsAddr || srcIsBlock) && (dstIsAddr || dstIsBlock) {
		switch status, rule := e.precheck(srcRange, dstRange, flow.Port, flow.Protocol); status {
		case StatusAllowAll:
			return model.Verdict{Flow: flow, Decision: DecisionAllow, MatchedRule: rule, Reason: ReasonPrecheckAllowAll}
		case StatusSkip:
			return model.Verdict{Flow: flow, Decision: DecisionDeny, Reason: ReasonPrecheckDeny}
		}
	}

	sources, srcSampled := endpointAddrs(flow.Source, srcRange, srcIsBlock, maxHosts)
	destinations, dstSampled := endpointAddrs(flow.Destination, dstRange, dstIsBlock, maxHosts)

	var total, allowed int
	var matched string
	for _, src := range sources {
		for _, dst := range destinations {
			v := e.Evaluate(model.Flow{Source: src, Destination: dst, Port: flow.Port, Protocol: flow.Protocol})
			total++
			if v.Decision == DecisionAllow {
				allowed++
				if matched == "" {
					matched = v.MatchedRule
				}
			}
		}
	}

	verdict := model.Verdict{Flow: flow, MatchedRule: matched, Reason: ReasonExpanded}
	if srcSampled || dstSampled {
		verdict.Reason = ReasonSampled
	}
	switch {
	case allowed == 0:
		verdict.Decision = DecisionDeny
	case allowed == total:
		verdict.Decision = DecisionAllow
	default:
		verdict.Decision = DecisionPartial
	}
	return verdict
}

// endpointRange reports whether endpoint is a single address or a CIDR
// block, and its address range if so.
func endpointRange(endpoint string) (ipv4.Range, bool, bool) {
	if ipv4.ValidAddr(endpoint) {
		addr, err := ipv4.ParseAddr(endpoint)
		if err == nil {
			return ipv4.Range{Start: addr, End: addr}, true, false
		}
	}
	if ipv4.ValidCIDR(endpoint) {
		c, err := ipv4.ParseCIDR(endpoint)
		if err == nil {
			return c.Range(), false, true
		}
	}
	return ipv4.Range{}, false, false
}

// endpointAddrs lists the addresses to evaluate for an endpoint. Blocks
// larger than maxHosts yield only their first address.
func endpointAddrs(endpoint string, r ipv4.Range, isBlock bool, maxHosts uint64) ([]string, bool) {
	if !isBlock {
		return []string{endpoint}, false
	}
	if r.Size() > maxHosts {
		return []string{ipv4.FormatAddr(r.Start)}, true
	}
	addrs := make([]string, 0, r.Size())
	for addr := uint64(r.Start); addr <= uint64(r.End); addr++ {
		addrs = append(addrs, ipv4.FormatAddr(uint32(addr)))
	}
	return addrs, false
}

func (e *Evaluator) matches(rule model.ExpandedTrafficRule, flow model.Flow) bool {
	return matchTraffic(rule, flow.Port, flow.Protocol) &&
		e.matchEndpoint(rule.Source, flow.Source) &&
		e.matchEndpoint(rule.Destination, flow.Destination)
}

// matchTraffic never matches a rule whose protocol has no number.
func matchTraffic(rule model.ExpandedTrafficRule, port, protocol int) bool {
	if rule.Protocol == model.ProtocolUnnumbered {
		return false
	}
	if rule.Protocol != model.ProtocolAll && rule.Protocol != protocol {
		return false
	}
	return port >= rule.FromPort && port <= rule.ToPort
}

// matchEndpoint matches a tier by name, or an IPv4 address by containment
// in a CIDR block tier.
func (e *Evaluator) matchEndpoint(tier model.NetworkTier, endpoint string) bool {
	if tier.TierName() == endpoint {
		return true
	}
	if !ipv4.ValidAddr(endpoint) {
		return false
	}
	addr, err := ipv4.ParseAddr(endpoint)
	if err != nil {
		return false
	}
	for _, r := range e.ranges[tier.TierName()] {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

type cidrRelation int

const (
	relNone cidrRelation = iota
	relPartial
	relFull
)

func (e *Evaluator) relation(tier model.NetworkTier, target ipv4.Range) cidrRelation {
	partialFound := false
	for _, r := range e.ranges[tier.TierName()] {
		rel := rangeRelation(r, target)
		if rel == relFull {
			return relFull
		}
		if rel == relPartial {
			partialFound = true
		}
	}
	if partialFound {
		return relPartial
	}
	return relNone
}

func rangeRelation(r, target ipv4.Range) cidrRelation {
	if r.End < target.Start || r.Start > target.End {
		return relNone
	}
	if r.Start <= target.Start && r.End >= target.End {
		return relFull
	}
	return relPartial
}
