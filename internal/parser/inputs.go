package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"network-tier-rules/internal/model"
	"network-tier-rules/pkg/wellknown"
)

var flowColumns = []string{"source", "destination", "port", "protocol"}

// ParseFlows reads a flows CSV with a source,destination,port,protocol
// header. Columns may come in any order; extra columns are ignored. An empty
// protocol means tcp. Rows that cannot be parsed are skipped.
func ParseFlows(r io.Reader) ([]model.Flow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	for _, col := range flowColumns {
		if col == "protocol" {
			continue
		}
		if _, ok := colMap[col]; !ok {
			return nil, fmt.Errorf("could not find '%s' column in flows file", col)
		}
	}

	var flows []model.Flow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		field := func(col string) string {
			i, ok := colMap[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		port, err := strconv.Atoi(field("port"))
		if err != nil || port < 0 || port > 65535 {
			continue
		}
		protocol, err := parseProtocol(field("protocol"))
		if err != nil {
			continue
		}
		source, destination := field("source"), field("destination")
		if source == "" || destination == "" {
			continue
		}

		flows = append(flows, model.Flow{
			Source:      source,
			Destination: destination,
			Port:        port,
			Protocol:    protocol,
		})
	}
	return flows, nil
}

func parseProtocol(s string) (int, error) {
	if s == "" {
		return model.ProtocolTCP, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	return wellknown.ProtocolNumber(strings.ToLower(s))
}
