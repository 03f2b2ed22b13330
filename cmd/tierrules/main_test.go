package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/render"
)

const testConfig = `
network_tiers:
  security_groups:
    - name: web
      security_group_id: sg-1
    - name: app
  cidr_blocks:
    - name: office
      cidr_blocks: [203.0.113.0/24]
traffic_rules:
  - source: office
    destination: web
    port: 443
  - source: web
    destination: app
    port: 8080
`

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "network-tier-rules [config_file]", cmd.Use)

	check, _, err := cmd.Find([]string{"check"})
	require.NoError(t, err)
	assert.Equal(t, "check", check.Name())
}

func TestSetupLogger(t *testing.T) {
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR", "UNKNOWN"} {
		logger, closeLog := setupLogger(lvl, "")
		assert.NotNil(t, logger, "level %s", lvl)
		closeLog()
	}

	path := filepath.Join(t.TempDir(), "test.log")
	logger, closeLog := setupLogger("INFO", path)
	logger.Info("hello")
	closeLog()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSetupLoggerFallback(t *testing.T) {
	var notice bytes.Buffer
	logFallback = &notice
	defer func() { logFallback = os.Stderr }()

	// An unwritable log file falls back to stderr and says so.
	logger, closeLog := setupLogger("INFO", "/nonexistent/path/to/log.log")
	defer closeLog()
	assert.NotNil(t, logger)
	assert.Contains(t, notice.String(), "failed to open log file /nonexistent/path/to/log.log")
}

func TestLoadConfig(t *testing.T) {
	_, err := loadConfig("unknown", "config.yml", "", "", engine.SecurityGroupVariant)
	assert.Error(t, err)

	_, err = loadConfig("yaml", "", "", "", engine.SecurityGroupVariant)
	assert.Error(t, err)

	_, err = loadConfig("yaml", "/nonexistent/config.yml", "", "", engine.SecurityGroupVariant)
	assert.Error(t, err)

	_, err = loadConfig("mariadb", "", "", "", engine.SecurityGroupVariant)
	assert.Error(t, err)

	_, err = loadConfig("mariadb", "", "invalid-dsn", "", engine.SecurityGroupVariant)
	assert.Error(t, err)

	path := writeTestConfig(t, t.TempDir())
	cfg, err := loadConfig("yaml", path, "", "", engine.SecurityGroupVariant)
	require.NoError(t, err)
	assert.Len(t, cfg.TrafficRules, 2)
}

func TestDefaultOutputDir(t *testing.T) {
	ruleProvider = "yaml"
	assert.Equal(t, filepath.Join("output", "prod"), defaultOutputDir("configs/prod.yml"))
	assert.Equal(t, filepath.Join("output", "config"), defaultOutputDir(defaultConfigFile))

	ruleProvider, policySet = "mariadb", "staging"
	defer func() { ruleProvider, policySet = "yaml", "default" }()
	assert.Equal(t, filepath.Join("output", "staging"), defaultOutputDir(defaultConfigFile))
}

func TestRun(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, tmpDir)
	outPath := filepath.Join(tmpDir, "out")
	templates := filepath.Join(tmpDir, "templates")

	require.NoError(t, os.MkdirAll(templates, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "provider.tf"), []byte("provider \"aws\" {}\n"), 0644))
	require.NoError(t, os.MkdirAll(outPath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outPath, "stale.tf"), []byte("old"), 0644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		configPath,
		"--out", outPath,
		"--templates", templates,
		"--workers", "2",
		"--log-level", "DEBUG",
		"--log-file", filepath.Join(tmpDir, "run.log"),
	})
	require.NoError(t, cmd.Execute())

	for _, name := range []string{"provider.tf", "security_group_rules_web.tf", "security_group_rules_app.tf", render.VariablesFile} {
		assert.FileExists(t, filepath.Join(outPath, name))
	}
	assert.NoFileExists(t, filepath.Join(outPath, "stale.tf"))

	web, err := os.ReadFile(filepath.Join(outPath, "security_group_rules_web.tf"))
	require.NoError(t, err)
	assert.Contains(t, string(web), `"allow_https_ingress_from_office_to_web"`)
	assert.Contains(t, string(web), `"allow_all_ingress_from_web_to_web"`)

	// A second run over identical input produces no diff.
	var out bytes.Buffer
	diffCmd := newRootCmd()
	diffCmd.SetOut(&out)
	diffCmd.SetArgs([]string{configPath, "--out", outPath, "--diff", "--log-file", filepath.Join(tmpDir, "run.log")})
	require.NoError(t, diffCmd.Execute())
	assert.Empty(t, out.String())
}

func TestRunDiff(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, tmpDir)
	outPath := filepath.Join(tmpDir, "out")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{configPath, "--out", outPath, "--diff", "--log-file", filepath.Join(tmpDir, "run.log")})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "+resource \"aws_security_group_rule\" \"allow_https_ingress_from_office_to_web\" {")
	assert.NoDirExists(t, outPath, "diff mode must not write")
}

func TestRunErrors(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "run.log")

	cmd := newRootCmd()
	cmd.SetArgs([]string{filepath.Join(tmpDir, "nonexistent.yml"), "--log-file", logPath})
	assert.Error(t, cmd.Execute())

	configPath := writeTestConfig(t, tmpDir)

	cmd = newRootCmd()
	cmd.SetArgs([]string{configPath, "--provider", "invalid", "--log-file", logPath})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetArgs([]string{configPath, "--variant", "firewall", "--log-file", logPath})
	assert.Error(t, cmd.Execute())

	// A security group document is not a valid network ACL document.
	cmd = newRootCmd()
	cmd.SetArgs([]string{configPath, "--variant", "network-acl", "--out", filepath.Join(tmpDir, "out"), "--log-file", logPath})
	assert.Error(t, cmd.Execute())
}

func TestCheck(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, tmpDir)
	flowsPath := filepath.Join(tmpDir, "flows.csv")
	resultsPath := filepath.Join(tmpDir, "results.csv")
	allowedPath := filepath.Join(tmpDir, "allowed.csv")

	require.NoError(t, os.WriteFile(flowsPath, []byte("source,destination,port,protocol\n"+
		"203.0.113.9,web,443,tcp\n"+
		"web,app,8080,tcp\n"+
		"app,web,8080,tcp\n"+
		"web,web,53,udp\n"+
		"203.0.113.0/30,web,443,tcp\n"+
		"198.51.100.0/24,203.0.113.1,443,tcp\n"), 0644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"check", configPath,
		"--flows", flowsPath,
		"--results", resultsPath,
		"--allowed", allowedPath,
		"--workers", "3",
		"--log-file", filepath.Join(tmpDir, "run.log"),
	})
	require.NoError(t, cmd.Execute())

	results, err := os.ReadFile(resultsPath)
	require.NoError(t, err)
	assert.Equal(t, "source,destination,port,protocol,decision,matched_rule,reason\n"+
		"203.0.113.9,web,443,tcp,ALLOW,allow_https_ingress_from_office_to_web,MATCH_RULE\n"+
		"web,app,8080,tcp,ALLOW,allow_protocol_tcp_port_8080_ingress_from_web_to_app,MATCH_RULE\n"+
		"app,web,8080,tcp,DENY,,IMPLICIT_DENY\n"+
		"web,web,53,udp,ALLOW,allow_all_ingress_from_web_to_web,MATCH_RULE\n"+
		"203.0.113.0/30,web,443,tcp,ALLOW,allow_https_ingress_from_office_to_web,EXPANDED\n"+
		"198.51.100.0/24,203.0.113.1,443,tcp,DENY,,PRECHECK_IMPLICIT_DENY\n", string(results))

	allowed, err := os.ReadFile(allowedPath)
	require.NoError(t, err)
	assert.NotContains(t, string(allowed), "DENY")
}

func TestCheckRequiresFlows(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"check", "--log-file", filepath.Join(t.TempDir(), "run.log")})
	assert.Error(t, cmd.Execute())
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "prod.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))
	return path
}
