package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/model"
)

func TestRenderSecurityGroups(t *testing.T) {
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{
			SecurityGroups: []model.SecurityGroup{{Name: "web", SecurityGroupID: "sg-1"}},
			CIDRBlocks:     []model.CIDRBlock{{Name: "internet", CIDRBlocks: []string{"0.0.0.0/0"}}},
		},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("internet"), Destination: model.One("web"), Port: model.PortList{model.Port(443)}},
		},
		AllowAllToSelf: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.SecurityGroupVariant)
	require.Len(t, files, 2)

	assert.Equal(t, "security_group_rules_web.tf", files[0].Name)
	assert.Equal(t, `resource "aws_security_group_rule" "allow_https_ingress_from_internet_to_web" {
  type              = "ingress"
  description       = "Allow https ingress from internet to web"
  security_group_id = var.web_security_group_id
  from_port         = 443
  to_port           = 443
  protocol          = "6"
  cidr_blocks = var.internet_cidr_blocks
}
`, files[0].Contents)

	assert.Equal(t, VariablesFile, files[1].Name)
	assert.Equal(t, `variable "web_security_group_id" {
  type    = string
  default = "sg-1"
}

variable "internet_cidr_blocks" {
  type    = list(string)
  default = ["0.0.0.0/0"]
}
`, files[1].Contents)
}

func TestRenderSecurityGroupSourcesAndWildcard(t *testing.T) {
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{
			SecurityGroups: []model.SecurityGroup{{Name: "web"}, {Name: "app"}},
			PrefixLists:    []model.PrefixList{{Name: "s3", PrefixListIDs: []string{"pl-1"}}},
		},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("web"), Destination: model.One("app"), Description: `says "hi"`},
			{Source: model.One("app"), Destination: model.One("s3"), TrafficType: model.One("https")},
		},
		AllowAllToSelf: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.SecurityGroupVariant)
	require.Len(t, files, 3)

	app := files[1].Contents
	assert.Contains(t, app, `resource "aws_security_group_rule" "allow_all_ingress_from_web_to_app" {`)
	assert.Contains(t, app, `description       = "says \"hi\""`)
	assert.Contains(t, app, "from_port         = 0\n  to_port           = 0\n  protocol          = \"-1\"")
	assert.Contains(t, app, "source_security_group_id = var.web_security_group_id")
	assert.Contains(t, app, "prefix_list_ids = var.s3_prefix_list_ids")
	assert.Contains(t, app, "}\n\nresource ")

	assert.Contains(t, files[2].Contents, `default = ["pl-1"]`)
}

func TestRenderNetworkACL(t *testing.T) {
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{
			SubnetGroups: []model.SubnetGroup{
				{Name: "app", NetworkACLID: "acl-1", SubnetIDs: []string{"subnet-1"}},
				{Name: "db", IPv6: true},
			},
		},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("app"), Destination: model.One("db"), TrafficType: model.One("postgresql")},
		},
		AllowAllToSelf: model.Bool(false),
		AllowEphemeral: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.NetworkACLVariant)
	require.Len(t, files, 3)

	assert.Equal(t, "network_acl_rules_app.tf", files[0].Name)
	app := files[0].Contents
	assert.Contains(t, app, `resource "aws_network_acl_rule" "allow_postgresql_egress_from_app_to_db" {`)
	assert.Contains(t, app, "network_acl_id = var.app_network_acl_id")
	assert.Contains(t, app, "rule_number    = 100 + count.index")
	assert.Contains(t, app, "egress         = true")
	assert.Contains(t, app, "from_port      = 5432")
	assert.Contains(t, app, "cidr_block     = local.db_cidr_blocks[count.index]")
	assert.Contains(t, app, `resource "aws_network_acl_rule" "allow_ipv6_postgresql_egress_from_app_to_db" {`)
	assert.Contains(t, app, "rule_number    = 110 + count.index")
	assert.Contains(t, app, "ipv6_cidr_block = local.db_ipv6_cidr_blocks[count.index]")

	db := files[1].Contents
	assert.Contains(t, db, "egress         = false")
	assert.Contains(t, db, "rule_number    = 100 + count.index")
	assert.NotContains(t, db, "ipv6")

	vars := files[2].Contents
	assert.Contains(t, vars, `variable "app_network_acl_id" {`)
	assert.Contains(t, vars, `default = ["subnet-1"]`)
	assert.Contains(t, vars, `data "aws_subnet" "db" {`)
	assert.Contains(t, vars, "app_cidr_blocks      = [for s in data.aws_subnet.app : s.cidr_block]")
}

func TestRenderNetworkACLRuleNumbersSpanAddresses(t *testing.T) {
	partners := make([]string, 12)
	for i := range partners {
		partners[i] = fmt.Sprintf("10.%d.0.0/16", i)
	}
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{
			SubnetGroups: []model.SubnetGroup{{Name: "app", SubnetIDs: []string{"subnet-1"}}},
			CIDRBlocks:   []model.CIDRBlock{{Name: "partners", CIDRBlocks: partners}},
		},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("partners"), Destination: model.One("app"), Port: model.PortList{model.Port(80), model.Port(443)}},
			{Source: model.One("app"), Destination: model.One("app"), Port: model.PortList{model.Port(22)}},
		},
		AllowAllToSelf: model.Bool(false),
		AllowEphemeral: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.NetworkACLVariant)
	app := files[0].Contents

	// 12 addresses take numbers 100-111, so the next rule starts at 120.
	assert.Contains(t, app, `resource "aws_network_acl_rule" "allow_http_ingress_from_partners_to_app" {`)
	assert.Contains(t, app, "rule_number    = 100 + count.index")
	assert.Contains(t, app, "rule_number    = 120 + count.index")
	assert.Contains(t, app, "rule_number    = 140 + count.index")
	assert.NotContains(t, app, "rule_number    = 110 + count.index")
}

func TestRuleViewsRuleNumberLimit(t *testing.T) {
	blocks := make([]string, ACLRuleNumberMax)
	for i := range blocks {
		blocks[i] = "10.0.0.0/32"
	}
	rule := model.DirectionalRule{
		ExpandedTrafficRule: model.ExpandedTrafficRule{FromPort: 443, ToPort: 443, Protocol: model.ProtocolTCP},
		Direction:           model.Ingress,
		NetworkTier:         model.SubnetGroup{Name: "app"},
		OtherNetworkTier:    model.CIDRBlock{Name: "everyone", CIDRBlocks: blocks},
		RuleName:            "allow_https_ingress_from_everyone_to_app",
	}

	_, err := ruleViews([]model.DirectionalRule{rule}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceed")

	// Security group rules carry no numbers.
	views, err := ruleViews([]model.DirectionalRule{rule}, false)
	require.NoError(t, err)
	assert.Zero(t, views[0].RuleNumber)
}

func TestRenderUnnumberedProtocol(t *testing.T) {
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{SecurityGroups: []model.SecurityGroup{{Name: "vpn"}, {Name: "edge"}}},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("vpn"), Destination: model.One("edge"), Port: model.PortList{model.Port(50)}, Protocol: model.ProtocolName("esp")},
		},
		AllowAllToSelf: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.SecurityGroupVariant)
	assert.Contains(t, files[1].Contents, `resource "aws_security_group_rule" "allow_protocol_esp_port_50_ingress_from_vpn_to_edge" {`)
	assert.Contains(t, files[1].Contents, `protocol          = "esp"`)
}

func TestRenderEmptyGroup(t *testing.T) {
	cfg := &model.Config{
		NetworkTiers: model.NetworkTiers{
			SecurityGroups: []model.SecurityGroup{{Name: "web"}, {Name: "idle"}},
		},
		TrafficRules: []model.RawTrafficRule{
			{Source: model.One("web"), Destination: model.One("web")},
		},
		AllowAllToSelf: model.Bool(false),
	}

	files := compileAndRender(t, cfg, engine.SecurityGroupVariant)
	require.Len(t, files, 3)
	assert.Equal(t, "security_group_rules_idle.tf", files[1].Name)
	assert.Empty(t, files[1].Contents)
}

func TestCheckSyntax(t *testing.T) {
	assert.NoError(t, checkSyntax("ok.tf", "variable \"web_cidr_blocks\" {\n  type = list(string)\n}\n"))

	err := checkSyntax("broken.tf", "resource \"aws_security_group_rule\" \"x\" {\n  type = \n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rendered invalid HCL")
}

func compileAndRender(t *testing.T, cfg *model.Config, v engine.Variant) []File {
	t.Helper()
	result, err := engine.Compile(cfg, v)
	require.NoError(t, err)
	files, err := Render(result, v)
	require.NoError(t, err)
	return files
}
