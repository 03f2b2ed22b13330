package parser

import (
	"database/sql"
	"fmt"

	"gopkg.in/yaml.v2"

	"network-tier-rules/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

// MariaDBParser loads a policy document from the cfg_* tables. Tier
// attributes and rule definitions are stored as JSON documents in the same
// shape as the YAML file, so the shorthand decoders apply unchanged.
type MariaDBParser struct {
	db        *sql.DB
	policySet string

	Config model.Config
}

func NewMariaDBParser(dsn, policySet string) (*MariaDBParser, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &MariaDBParser{
		db:        db,
		policySet: policySet,
	}, nil
}

func (p *MariaDBParser) Close() {
	p.db.Close()
}

func (p *MariaDBParser) Parse() error {
	if err := p.loadSettings(); err != nil {
		return fmt.Errorf("failed to load policy settings: %w", err)
	}
	if err := p.loadNetworkTiers(); err != nil {
		return fmt.Errorf("failed to load network tiers: %w", err)
	}
	if err := p.loadTrafficRules(); err != nil {
		return fmt.Errorf("failed to load traffic rules: %w", err)
	}
	return nil
}

func (p *MariaDBParser) loadSettings() error {
	row := p.db.QueryRow(
		"SELECT allow_all_to_self, allow_ephemeral, ipv6, consolidate_cidr_blocks FROM cfg_policy_set WHERE name = ?",
		p.policySet)

	var allowSelf, allowEphemeral, ipv6, consolidate sql.NullBool
	err := row.Scan(&allowSelf, &allowEphemeral, &ipv6, &consolidate)
	if err == sql.ErrNoRows {
		// Without a settings row every flag keeps its default.
		return nil
	}
	if err != nil {
		return err
	}

	if allowSelf.Valid {
		p.Config.AllowAllToSelf = model.Bool(allowSelf.Bool)
	}
	if allowEphemeral.Valid {
		p.Config.AllowEphemeral = model.Bool(allowEphemeral.Bool)
	}
	p.Config.IPv6 = ipv6.Valid && ipv6.Bool
	p.Config.ConsolidateCIDRBlocks = consolidate.Valid && consolidate.Bool
	return nil
}

func (p *MariaDBParser) loadNetworkTiers() error {
	rows, err := p.db.Query(
		"SELECT tier_type, name, attributes FROM cfg_network_tier WHERE policy_set = ? ORDER BY id ASC",
		p.policySet)
	if err != nil {
		return err
	}
	defer rows.Close()

	tiers := &p.Config.NetworkTiers
	for rows.Next() {
		var tierType, name string
		var attributes sql.NullString
		if err := rows.Scan(&tierType, &name, &attributes); err != nil {
			return err
		}
		doc := []byte("{}")
		if attributes.Valid && attributes.String != "" {
			doc = []byte(attributes.String)
		}

		switch model.TierKind(tierType) {
		case model.KindSecurityGroup:
			var g model.SecurityGroup
			if err := yaml.Unmarshal(doc, &g); err != nil {
				return fmt.Errorf("tier %s: %w", name, err)
			}
			g.Name = name
			tiers.SecurityGroups = append(tiers.SecurityGroups, g)
		case model.KindSubnetGroup:
			var g model.SubnetGroup
			if err := yaml.Unmarshal(doc, &g); err != nil {
				return fmt.Errorf("tier %s: %w", name, err)
			}
			g.Name = name
			tiers.SubnetGroups = append(tiers.SubnetGroups, g)
		case model.KindCIDRBlock:
			var b model.CIDRBlock
			if err := yaml.Unmarshal(doc, &b); err != nil {
				return fmt.Errorf("tier %s: %w", name, err)
			}
			b.Name = name
			tiers.CIDRBlocks = append(tiers.CIDRBlocks, b)
		case model.KindIPv6CIDRBlock:
			var b model.IPv6CIDRBlock
			if err := yaml.Unmarshal(doc, &b); err != nil {
				return fmt.Errorf("tier %s: %w", name, err)
			}
			b.Name = name
			tiers.IPv6CIDRBlocks = append(tiers.IPv6CIDRBlocks, b)
		case model.KindPrefixList:
			var l model.PrefixList
			if err := yaml.Unmarshal(doc, &l); err != nil {
				return fmt.Errorf("tier %s: %w", name, err)
			}
			l.Name = name
			tiers.PrefixLists = append(tiers.PrefixLists, l)
		default:
			return fmt.Errorf("tier %s: unknown tier type %q", name, tierType)
		}
	}
	return rows.Err()
}

func (p *MariaDBParser) loadTrafficRules() error {
	rows, err := p.db.Query(
		"SELECT priority, definition FROM cfg_traffic_rule WHERE policy_set = ? ORDER BY priority ASC, id ASC",
		p.policySet)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var priority int
		var definition string
		if err := rows.Scan(&priority, &definition); err != nil {
			return err
		}
		var rule model.RawTrafficRule
		if err := yaml.Unmarshal([]byte(definition), &rule); err != nil {
			return fmt.Errorf("traffic rule at priority %d: %w", priority, err)
		}
		p.Config.TrafficRules = append(p.Config.TrafficRules, rule)
	}
	return rows.Err()
}
