package wellknown

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	_ "embed"

	"network-tier-rules/internal/model"
)

//go:embed traffic_types.csv
var trafficTypesData string

var (
	ErrUnknownTrafficType = errors.New("unknown traffic type")
	ErrUnknownProtocol    = errors.New("unknown protocol")
)

// Definition is a catalog entry as declared: either a bare port or explicit
// bounds, with an optional protocol. Nil fields are unset.
type Definition struct {
	Port     *int
	FromPort *int
	ToPort   *int
	Protocol *int
}

func PortDefinition(port int) Definition {
	return Definition{Port: &port}
}

type Entry struct {
	Name        string
	Definition  Definition
	TrafficType model.TrafficType
}

type protocolEntry struct {
	Name   string
	Number int
}

var protocols = []protocolEntry{
	{Name: "icmp", Number: model.ProtocolICMP},
	{Name: "tcp", Number: model.ProtocolTCP},
	{Name: "udp", Number: model.ProtocolUDP},
	{Name: "icmp_ipv6", Number: model.ProtocolICMPv6},
}

// catalog keeps declaration order; reverse lookups return the first match.
var (
	catalog      []Entry
	catalogIndex map[string]int
)

func init() {
	catalogIndex = make(map[string]int)
	reader := csv.NewReader(bytes.NewBufferString(trafficTypesData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded traffic_types.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded traffic_types.csv: %v", err)
		}
		if len(record) < 5 {
			continue
		}

		name := strings.TrimSpace(record[0])
		var def Definition
		for i, field := range []**int{&def.Port, &def.FromPort, &def.ToPort, &def.Protocol} {
			value := strings.TrimSpace(record[i+1])
			if value == "" {
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				log.Fatalf("Invalid number %q for traffic type %s: %v", value, name, err)
			}
			*field = &n
		}

		catalogIndex[name] = len(catalog)
		catalog = append(catalog, Entry{Name: name, Definition: def, TrafficType: Normalize(def)})
	}
}

// Normalize turns a definition into a TrafficType. A bare port means
// from == to == port; the protocol defaults to TCP.
func Normalize(def Definition) model.TrafficType {
	tt := model.TrafficType{Protocol: model.ProtocolTCP}
	if def.Port != nil {
		tt.FromPort = *def.Port
		tt.ToPort = *def.Port
	}
	if def.FromPort != nil {
		tt.FromPort = *def.FromPort
	}
	if def.ToPort != nil {
		tt.ToPort = *def.ToPort
	}
	if def.Protocol != nil {
		tt.Protocol = *def.Protocol
	}
	return tt
}

// Lookup returns the traffic type registered under name.
func Lookup(name string) (model.TrafficType, error) {
	i, ok := catalogIndex[name]
	if !ok {
		return model.TrafficType{}, fmt.Errorf("%w: %s", ErrUnknownTrafficType, name)
	}
	return catalog[i].TrafficType, nil
}

// Identify returns the name of the first catalog entry equal to tt.
func Identify(tt model.TrafficType) (string, bool) {
	for _, entry := range catalog {
		if entry.TrafficType == tt {
			return entry.Name, true
		}
	}
	return "", false
}

// Names lists the catalog in declaration order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, entry := range catalog {
		names[i] = entry.Name
	}
	return names
}

// Entries returns a copy of the catalog in declaration order.
func Entries() []Entry {
	return append([]Entry(nil), catalog...)
}

func ProtocolNumber(name string) (int, error) {
	for _, p := range protocols {
		if p.Name == name {
			return p.Number, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
}

func ProtocolName(number int) (string, bool) {
	for _, p := range protocols {
		if p.Number == number {
			return p.Name, true
		}
	}
	return "", false
}
