package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/model"
	"network-tier-rules/internal/parser"
	"network-tier-rules/internal/render"
)

const defaultConfigFile = "config.yml"

// logFallback receives the notice printed when the log file cannot be opened.
var logFallback io.Writer = os.Stderr

var (
	variantName  string
	ruleProvider string
	rulesDB      string
	policySet    string
	outDir       string
	templatesDir string
	workers      int
	diffMode     bool
	logLevel     string
	logFile      string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "network-tier-rules [config_file]",
		Short: "Expand network tier policies into firewall rule files",
		Long: `network-tier-rules reads a policy document of named network tiers and
shorthand traffic rules, expands it into deduplicated ingress and egress rules
per security group or subnet group, and renders them as Terraform files.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&variantName, "variant", engine.SecurityGroupVariant.Name, "Document variant: 'security-group' or 'network-acl'")
	pf.StringVar(&ruleProvider, "provider", "yaml", "Policy provider type: 'yaml' or 'mariadb'")
	pf.StringVar(&rulesDB, "db", "", "Database connection string (for 'mariadb' provider)")
	pf.StringVar(&policySet, "policy-set", "default", "Policy set to load (for 'mariadb' provider)")
	pf.StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")

	rootCmd.Flags().StringVar(&outDir, "out", "", "Output directory (default: output/<config name>)")
	rootCmd.Flags().StringVar(&templatesDir, "templates", "templates", "Directory of static *.tf files copied into the output")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent file writers")
	rootCmd.Flags().BoolVar(&diffMode, "diff", false, "Print a unified diff against the output directory instead of writing")

	rootCmd.AddCommand(newCheckCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, closeLog := setupLogger(logLevel, logFile)
	defer closeLog()
	slog.SetDefault(logger)
	startTime := time.Now()

	configPath := configPathFromArgs(args)
	variant, err := engine.VariantByName(variantName)
	if err != nil {
		return err
	}

	result, err := compile(configPath, variant)
	if err != nil {
		return err
	}

	files, err := render.Render(result, variant)
	if err != nil {
		slog.Error("Failed to render rules", "error", err)
		return err
	}

	dir := outDir
	if dir == "" {
		dir = defaultOutputDir(configPath)
	}

	if diffMode {
		changed, err := diffOutput(cmd.OutOrStdout(), dir, files)
		if err != nil {
			return err
		}
		slog.Info("Diff complete", "output_dir", dir, "changed_files", changed)
		return nil
	}

	slog.Info("Writing output", "output_dir", dir, "files", len(files), "workers", workers)
	if err := writeOutput(dir, templatesDir, files, workers); err != nil {
		slog.Error("Failed to write output", "output_dir", dir, "error", err)
		return err
	}

	slog.Info("Generation complete", "duration", time.Since(startTime))
	return nil
}

// compile loads, validates and compiles the policy document.
func compile(configPath string, variant engine.Variant) (*model.Result, error) {
	slog.Info("Loading configuration", "provider", ruleProvider, "variant", variant.Name)
	cfg, err := loadConfig(ruleProvider, configPath, rulesDB, policySet, variant)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, err
	}
	slog.Info("Successfully loaded configuration",
		"traffic_rules", len(cfg.TrafficRules),
		"security_groups", len(cfg.NetworkTiers.SecurityGroups),
		"subnet_groups", len(cfg.NetworkTiers.SubnetGroups))

	result, err := engine.Compile(cfg, variant)
	if err != nil {
		slog.Error("Failed to compile traffic rules", "error", err)
		return nil, err
	}
	slog.Info("Traffic rules compiled",
		"expanded_rules", len(result.ExpandedTrafficRules),
		"rule_groups", len(result.GroupedTrafficRules))
	return result, nil
}

func configPathFromArgs(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return defaultConfigFile
}

// defaultOutputDir is output/<config file name without extension>.
func defaultOutputDir(configPath string) string {
	base := filepath.Base(configPath)
	if ruleProvider == "mariadb" {
		base = policySet
	}
	return filepath.Join("output", strings.TrimSuffix(base, filepath.Ext(base)))
}

// setupLogger builds the JSON logger. The returned func closes the log file,
// if one was opened.
func setupLogger(level, logFilePath string) (*slog.Logger, func()) {
	var logWriter io.Writer = os.Stderr
	closeLog := func() {}
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(logFallback, "failed to open log file %s, logging to stderr: %v\n", logFilePath, err)
		} else {
			logWriter = f
			closeLog = func() { f.Close() }
		}
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl})), closeLog
}

func loadConfig(provider, configPath, dbConnStr, set string, variant engine.Variant) (*model.Config, error) {
	switch provider {
	case "yaml":
		if configPath == "" {
			return nil, fmt.Errorf("config file path must be provided for yaml provider")
		}
		file, err := os.Open(configPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return parser.LoadConfig(file, variant)
	case "mariadb":
		if dbConnStr == "" {
			return nil, fmt.Errorf("database connection string must be provided for mariadb provider")
		}
		p, err := parser.NewMariaDBParser(dbConnStr, set)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		if err := p.Parse(); err != nil {
			return nil, err
		}
		if err := parser.Validate(&p.Config, variant); err != nil {
			return nil, err
		}
		return &p.Config, nil
	default:
		return nil, fmt.Errorf("unknown policy provider: %s", provider)
	}
}

// writeOutput replaces every *.* file in dir with the static templates and
// the rendered files. Rendered files are written by a pool of workers.
func writeOutput(dir, templates string, files []render.File, workers int) error {
	stale, err := filepath.Glob(filepath.Join(dir, "*.*"))
	if err != nil {
		return err
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to clear output: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	static, err := filepath.Glob(filepath.Join(templates, "*.tf"))
	if err != nil {
		return err
	}
	for _, path := range static {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(path)), data, 0644); err != nil {
			return err
		}
	}

	if workers < 1 {
		workers = 1
	}
	jobs := make(chan render.File, len(files))
	errs := make(chan error, len(files))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go writer(&wg, i+1, dir, jobs, errs)
	}
	for _, f := range files {
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func writer(wg *sync.WaitGroup, id int, dir string, jobs <-chan render.File, errs chan<- error) {
	defer wg.Done()
	slog.Debug("Writer started", "id", id)
	for f := range jobs {
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, []byte(f.Contents), 0644); err != nil {
			errs <- fmt.Errorf("failed to write %s: %w", path, err)
			continue
		}
		slog.Debug("File written", "id", id, "path", path)
	}
}

// diffOutput prints a unified diff between what is on disk in dir and the
// rendered files, and returns how many files differ.
func diffOutput(w io.Writer, dir string, files []render.File) (int, error) {
	changed := 0
	for _, f := range files {
		path := filepath.Join(dir, f.Name)
		current, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return changed, err
		}
		if string(current) == f.Contents {
			continue
		}
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(current)),
			B:        difflib.SplitLines(f.Contents),
			FromFile: path,
			ToFile:   path + " (generated)",
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return changed, err
		}
		fmt.Fprint(w, text)
		changed++
	}
	return changed, nil
}
