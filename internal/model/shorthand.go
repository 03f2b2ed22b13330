package model

import (
	"errors"
	"fmt"
	"strconv"
)

// NameList is a tier or traffic type reference written either as a single
// name or as a list. Aggregate keywords such as "all" only apply to the
// single-name form.
type NameList struct {
	Names  []string
	Scalar bool
}

func One(name string) NameList {
	return NameList{Names: []string{name}, Scalar: true}
}

func Many(names ...string) NameList {
	return NameList{Names: names}
}

func (l NameList) IsZero() bool {
	return len(l.Names) == 0
}

// Single returns the name when the list was written as a single name.
func (l NameList) Single() (string, bool) {
	if l.Scalar && len(l.Names) == 1 {
		return l.Names[0], true
	}
	return "", false
}

func (l NameList) Contains(name string) bool {
	for _, n := range l.Names {
		if n == name {
			return true
		}
	}
	return false
}

func (l *NameList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*l = One(single)
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return fmt.Errorf("expected a name or a list of names: %w", err)
	}
	*l = Many(many...)
	return nil
}

// PortRange is an inclusive port range; a single port has From == To.
type PortRange struct {
	From int
	To   int
}

func Port(p int) PortRange {
	return PortRange{From: p, To: p}
}

func (r *PortRange) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var port int
	if err := unmarshal(&port); err == nil {
		*r = Port(port)
		return nil
	}
	var bounds struct {
		From *int `yaml:"from"`
		To   *int `yaml:"to"`
	}
	if err := unmarshal(&bounds); err != nil {
		return fmt.Errorf("expected a port or a {from, to} range: %w", err)
	}
	if bounds.From == nil || bounds.To == nil {
		return errors.New("port range requires both from and to")
	}
	*r = PortRange{From: *bounds.From, To: *bounds.To}
	return nil
}

// PortList is the port shorthand of a rule: one entry or a list of entries.
// A nil list means no port was given.
type PortList []PortRange

func (l *PortList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var one PortRange
	if err := unmarshal(&one); err == nil {
		*l = PortList{one}
		return nil
	}
	var many []PortRange
	if err := unmarshal(&many); err != nil {
		return fmt.Errorf("expected a port, a port range or a list of them: %w", err)
	}
	*l = many
	return nil
}

// ProtocolSpec is a rule protocol given either as an IANA number or by name.
type ProtocolSpec struct {
	Number *int
	Name   string
}

func ProtocolNumber(n int) *ProtocolSpec {
	return &ProtocolSpec{Number: &n}
}

func ProtocolName(name string) *ProtocolSpec {
	return &ProtocolSpec{Name: name}
}

func (p ProtocolSpec) String() string {
	if p.Number != nil {
		return strconv.Itoa(*p.Number)
	}
	return p.Name
}

func (p *ProtocolSpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var number int
	if err := unmarshal(&number); err == nil {
		*p = ProtocolSpec{Number: &number}
		return nil
	}
	var name string
	if err := unmarshal(&name); err != nil {
		return fmt.Errorf("expected a protocol name or number: %w", err)
	}
	*p = ProtocolSpec{Name: name}
	return nil
}
