// Package render turns compiled rule groups into Terraform files.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/model"
)

// VariablesFile holds one variable per declared tier attribute.
const VariablesFile = "variables.tf"

// Network ACL rule numbers start at ACLRuleNumberStart. Each rule takes one
// number per address of the other tier (count.index) and the next rule
// starts at the following multiple of ACLRuleNumberStep. AWS accepts
// numbers up to ACLRuleNumberMax.
const (
	ACLRuleNumberStart = 100
	ACLRuleNumberStep  = 10
	ACLRuleNumberMax   = 32766
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("render").Funcs(template.FuncMap{
	"quote": strconv.Quote,
	"list":  hclList,
}).ParseFS(templateFS, "templates/*.tmpl"))

type File struct {
	Name     string
	Contents string
}

type ruleView struct {
	Name        string
	Description string
	Direction   string
	Egress      bool
	Owner       string
	Other       string
	OtherKind   string
	FromPort    int
	ToPort      int
	Protocol    string
	RuleNumber  int
	Addresses   string
	IPv6        bool
}

type variableView struct {
	Name   string
	List   bool
	Values []string
}

// Render produces one rule file per owning tier, in group order, followed
// by the variables file.
func Render(result *model.Result, v engine.Variant) ([]File, error) {
	tiers := result.NetworkTiers
	templateName := "security_group_rules.tf.tmpl"
	if v.Owner == model.KindSubnetGroup {
		templateName = "network_acl_rules.tf.tmpl"
	}

	files := make([]File, 0, len(result.GroupedTrafficRules)+1)
	for _, group := range result.GroupedTrafficRules {
		rules, err := ruleViews(group.Rules, v.Owner == model.KindSubnetGroup)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", group.Tier.TierName(), err)
		}
		contents, err := execute(templateName, map[string]any{"Rules": rules})
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", group.Tier.TierName(), err)
		}
		files = append(files, File{
			Name:     v.RuleFilePrefix + group.Tier.TierName() + ".tf",
			Contents: contents,
		})
	}

	var subnetGroups []string
	for _, g := range tiers.SubnetGroups {
		subnetGroups = append(subnetGroups, g.Name)
	}
	contents, err := execute("variables.tf.tmpl", map[string]any{
		"Variables":    variables(tiers),
		"SubnetGroups": subnetGroups,
	})
	if err != nil {
		return nil, fmt.Errorf("variables: %w", err)
	}
	files = append(files, File{Name: VariablesFile, Contents: contents})
	return files, nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", nil
	}
	out += "\n"
	if err := checkSyntax(name, out); err != nil {
		return "", err
	}
	return out, nil
}

// checkSyntax rejects rendered output that is not valid HCL, which happens
// when a tier name is not a valid identifier.
func checkSyntax(name, src string) error {
	_, diags := hclwrite.ParseConfig([]byte(src), name, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return fmt.Errorf("rendered invalid HCL: %s", diags.Error())
	}
	return nil
}

// ruleViews prepares rules for the templates. Rule numbers are assigned only
// when numbered is set, per direction.
func ruleViews(rules []model.DirectionalRule, numbered bool) ([]ruleView, error) {
	views := make([]ruleView, 0, len(rules))
	next := map[model.Direction]int{
		model.Ingress: ACLRuleNumberStart,
		model.Egress:  ACLRuleNumberStart,
	}
	for _, rule := range rules {
		view := ruleView{
			Name:        rule.RuleName,
			Description: rule.RuleDescription,
			Direction:   string(rule.Direction),
			Egress:      rule.Direction == model.Egress,
			Owner:       rule.NetworkTier.TierName(),
			Other:       rule.OtherNetworkTier.TierName(),
			OtherKind:   string(rule.OtherNetworkTier.Kind()),
			FromPort:    rule.FromPort,
			ToPort:      rule.ToPort,
			Protocol:    protocol(rule.ExpandedTrafficRule),
		}
		// The all-protocols wildcard takes no port range.
		if rule.Protocol == model.ProtocolAll {
			view.FromPort, view.ToPort = 0, 0
		}
		view.Addresses, view.IPv6 = addresses(rule.OtherNetworkTier)
		if numbered {
			n := addressCount(rule.OtherNetworkTier)
			start := next[rule.Direction]
			if start+max(n, 1)-1 > ACLRuleNumberMax {
				return nil, fmt.Errorf("rule %s: %s rule numbers exceed %d", rule.RuleName, rule.Direction, ACLRuleNumberMax)
			}
			view.RuleNumber = start
			next[rule.Direction] = start + max(ACLRuleNumberStep, (n+ACLRuleNumberStep-1)/ACLRuleNumberStep*ACLRuleNumberStep)
		}
		views = append(views, view)
	}
	return views, nil
}

// protocol is the protocol attribute of a rendered rule: the number, or the
// name for protocols outside the protocol table.
func protocol(rule model.ExpandedTrafficRule) string {
	if rule.Protocol == model.ProtocolUnnumbered {
		return rule.ProtocolName
	}
	return strconv.Itoa(rule.Protocol)
}

// addressCount is how many addresses a network ACL rule against tier spans,
// one resource instance each.
func addressCount(tier model.NetworkTier) int {
	switch t := tier.(type) {
	case model.SubnetGroup:
		return len(t.SubnetIDs)
	case model.IPv6SubnetGroup:
		return len(t.SubnetIDs)
	case model.CIDRBlock:
		return len(t.CIDRBlocks)
	case model.IPv6CIDRBlock:
		return len(t.IPv6CIDRBlocks)
	default:
		return 1
	}
}

// addresses is the Terraform expression listing the CIDR blocks of tier,
// as consumed by network ACL rules.
func addresses(tier model.NetworkTier) (string, bool) {
	name := tier.TierName()
	switch tier.Kind() {
	case model.KindSubnetGroup:
		return "local." + name + "_cidr_blocks", false
	case model.KindIPv6SubnetGroup:
		return "local." + name + "_ipv6_cidr_blocks", true
	case model.KindIPv6CIDRBlock:
		return "var." + name + "_ipv6_cidr_blocks", true
	default:
		return "var." + name + "_cidr_blocks", false
	}
}

func variables(tiers model.NetworkTiers) []variableView {
	var vars []variableView
	for _, g := range tiers.SecurityGroups {
		vars = append(vars, variableView{Name: g.Name + "_security_group_id", Values: []string{g.SecurityGroupID}})
	}
	for _, g := range tiers.SubnetGroups {
		vars = append(vars,
			variableView{Name: g.Name + "_network_acl_id", Values: []string{g.NetworkACLID}},
			variableView{Name: g.Name + "_subnet_ids", List: true, Values: g.SubnetIDs},
		)
	}
	for _, b := range tiers.CIDRBlocks {
		vars = append(vars, variableView{Name: b.Name + "_cidr_blocks", List: true, Values: b.CIDRBlocks})
	}
	for _, b := range tiers.IPv6CIDRBlocks {
		vars = append(vars, variableView{Name: b.Name + "_ipv6_cidr_blocks", List: true, Values: b.IPv6CIDRBlocks})
	}
	for _, l := range tiers.PrefixLists {
		vars = append(vars, variableView{Name: l.Name + "_prefix_list_ids", List: true, Values: l.PrefixListIDs})
	}
	return vars
}

func hclList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
