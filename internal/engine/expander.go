package engine

import (
	"fmt"
	"strconv"

	"network-tier-rules/internal/model"
	"network-tier-rules/pkg/wellknown"
)

var ErrUnknownTrafficType = wellknown.ErrUnknownTrafficType

// collapseOrder lists aggregate traffic types that replace the whole list,
// highest priority first.
var collapseOrder = []string{"all", "all_tcp", "all_udp"}

// Expander materializes shorthand rules into concrete rule tuples.
type Expander struct {
	resolver *Resolver
}

func NewExpander(resolver *Resolver) *Expander {
	return &Expander{resolver: resolver}
}

// Expand expands rules in declaration order.
func (e *Expander) Expand(rules []model.RawTrafficRule) ([]model.ExpandedTrafficRule, error) {
	var expanded []model.ExpandedTrafficRule
	for i, rule := range rules {
		out, err := e.expandRule(rule)
		if err != nil {
			return nil, fmt.Errorf("traffic rule %d: %w", i, err)
		}
		expanded = append(expanded, out...)
	}
	return expanded, nil
}

func (e *Expander) expandRule(rule model.RawTrafficRule) ([]model.ExpandedTrafficRule, error) {
	proto := resolveProtocol(rule.Protocol)
	types := newTrafficTypeSet()

	trafficTypes := rule.TrafficType.Names
	if len(rule.Port) == 0 && len(trafficTypes) == 0 {
		trafficTypes = []string{"all"}
	}
	for _, name := range collapseTrafficTypes(trafficTypes) {
		tt, err := wellknown.Lookup(name)
		if err != nil {
			return nil, err
		}
		types.put(name, tt)
	}

	for _, port := range rule.Port {
		tt := model.TrafficType{FromPort: port.From, ToPort: port.To, Protocol: proto.number}
		name, ok := wellknown.Identify(tt)
		if !ok {
			name = portTrafficTypeName(proto.name, port)
		}
		types.put(name, tt)
	}

	sources, err := e.resolver.ResolveAll(rule.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source: %w", err)
	}
	destinations, err := e.resolver.ResolveAll(rule.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination: %w", err)
	}

	var out []model.ExpandedTrafficRule
	for _, src := range sources {
		for _, dst := range destinations {
			for _, name := range types.names {
				tt := types.types[name]
				out = append(out, model.ExpandedTrafficRule{
					Source:          src,
					Destination:     dst,
					FromPort:        tt.FromPort,
					ToPort:          tt.ToPort,
					Protocol:        tt.Protocol,
					ProtocolName:    proto.nameFor(tt),
					TrafficTypeName: name,
					Description:     rule.Description,
				})
			}
		}
	}
	return out, nil
}

// ruleProtocol is the protocol a rule applies to its port entries.
type ruleProtocol struct {
	number   int
	name     string
	explicit bool
}

// nameFor returns the protocol name recorded on an expanded rule: the rule's
// own protocol when one was given, otherwise the traffic type's.
func (p ruleProtocol) nameFor(tt model.TrafficType) string {
	if p.explicit {
		return p.name
	}
	return protocolLabel(tt.Protocol)
}

// resolveProtocol interprets the rule protocol. Without one, port entries
// are TCP. Names from the protocol table also carry their number, so
// {port: 443, protocol: tcp} identifies as https. Any other name is kept
// verbatim and has no number.
func resolveProtocol(spec *model.ProtocolSpec) ruleProtocol {
	if spec == nil {
		return ruleProtocol{number: model.ProtocolTCP, name: protocolLabel(model.ProtocolTCP)}
	}
	if spec.Number != nil {
		return ruleProtocol{number: *spec.Number, name: protocolLabel(*spec.Number), explicit: true}
	}
	if n, err := wellknown.ProtocolNumber(spec.Name); err == nil {
		return ruleProtocol{number: n, name: spec.Name, explicit: true}
	}
	if n, err := strconv.Atoi(spec.Name); err == nil {
		return ruleProtocol{number: n, name: spec.Name, explicit: true}
	}
	return ruleProtocol{number: model.ProtocolUnnumbered, name: spec.Name, explicit: true}
}

func protocolLabel(number int) string {
	if name, ok := wellknown.ProtocolName(number); ok {
		return name
	}
	return strconv.Itoa(number)
}

func collapseTrafficTypes(names []string) []string {
	for _, aggregate := range collapseOrder {
		for _, name := range names {
			if name == aggregate {
				return []string{aggregate}
			}
		}
	}
	return names
}

func portTrafficTypeName(protocol string, port model.PortRange) string {
	if port.From == port.To {
		return fmt.Sprintf("protocol_%s_port_%d", protocol, port.From)
	}
	return fmt.Sprintf("protocol_%s_from_port_%d_to_port_%d", protocol, port.From, port.To)
}

// trafficTypeSet is an insertion-ordered name to traffic type map. A later
// put under an existing name replaces the value in place.
type trafficTypeSet struct {
	names []string
	types map[string]model.TrafficType
}

func newTrafficTypeSet() *trafficTypeSet {
	return &trafficTypeSet{types: make(map[string]model.TrafficType)}
}

func (s *trafficTypeSet) put(name string, tt model.TrafficType) {
	if _, ok := s.types[name]; !ok {
		s.names = append(s.names, name)
	}
	s.types[name] = tt
}
