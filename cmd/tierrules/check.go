package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"network-tier-rules/internal/engine"
	"network-tier-rules/internal/model"
	"network-tier-rules/internal/parser"
	"network-tier-rules/pkg/wellknown"
)

var (
	flowsFile    string
	resultsFile  string
	allowedFile  string
	checkWorkers int
	maxHosts     uint64
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check [config_file]",
		Short: "Evaluate a list of flows against the compiled rules",
		Long: `check compiles the policy document and reports, for every flow in the
flows CSV (source,destination,port,protocol), whether a rule allows it.
Endpoints are tier names, IPv4 addresses or IPv4 CIDR blocks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCheck,
	}

	checkCmd.Flags().StringVar(&flowsFile, "flows", "", "Flows CSV file (required)")
	checkCmd.Flags().StringVar(&resultsFile, "results", "results.csv", "Output CSV file for all verdicts")
	checkCmd.Flags().StringVar(&allowedFile, "allowed", "", "Optional output CSV file for allowed flows only")
	checkCmd.Flags().IntVarP(&checkWorkers, "workers", "w", 4, "Number of concurrent evaluators")
	checkCmd.Flags().Uint64Var(&maxHosts, "max-hosts", 256, "Largest CIDR endpoint expanded address by address; larger blocks are sampled")
	checkCmd.MarkFlagRequired("flows")

	return checkCmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger, closeLog := setupLogger(logLevel, logFile)
	defer closeLog()
	slog.SetDefault(logger)
	startTime := time.Now()

	variant, err := engine.VariantByName(variantName)
	if err != nil {
		return err
	}
	result, err := compile(configPathFromArgs(args), variant)
	if err != nil {
		return err
	}
	evaluator := engine.NewEvaluator(result)

	f, err := os.Open(flowsFile)
	if err != nil {
		slog.Error("Failed to open flows file", "path", flowsFile, "error", err)
		return err
	}
	defer f.Close()

	flows, err := parser.ParseFlows(f)
	if err != nil {
		slog.Error("Failed to parse flows", "error", err)
		return err
	}
	slog.Info("Flows parsed", "count", len(flows))

	verdicts := evaluateFlows(evaluator, flows, checkWorkers, maxHosts)

	if err := writeVerdicts(verdicts, resultsFile, allowedFile); err != nil {
		slog.Error("Failed to write results", "path", resultsFile, "error", err)
		return err
	}

	allowed := 0
	for _, v := range verdicts {
		if v.Decision == engine.DecisionAllow {
			allowed++
		}
	}
	slog.Info("Check complete", "flows", len(verdicts), "allowed", allowed, "duration", time.Since(startTime))
	return nil
}

type indexedFlow struct {
	index int
	flow  model.Flow
}

// evaluateFlows fans flows out to a pool of workers. Verdicts come back in
// input order.
func evaluateFlows(evaluator *engine.Evaluator, flows []model.Flow, workers int, maxHosts uint64) []model.Verdict {
	if workers < 1 {
		workers = 1
	}
	tasks := make(chan indexedFlow, workers*100)
	verdicts := make([]model.Verdict, len(flows))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(&wg, i+1, evaluator, maxHosts, tasks, verdicts)
	}
	for i, flow := range flows {
		tasks <- indexedFlow{index: i, flow: flow}
	}
	close(tasks)
	wg.Wait()
	return verdicts
}

// worker writes each verdict to its own slot, so no locking is needed.
func worker(wg *sync.WaitGroup, id int, evaluator *engine.Evaluator, maxHosts uint64, tasks <-chan indexedFlow, verdicts []model.Verdict) {
	defer wg.Done()
	slog.Debug("Worker started", "id", id)
	for task := range tasks {
		verdicts[task.index] = evaluator.Check(task.flow, maxHosts)
	}
	slog.Debug("Worker finished", "id", id)
}

func writeVerdicts(verdicts []model.Verdict, outPath, allowedPath string) error {
	outFile, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer outFile.Close()
	outWriter := csv.NewWriter(outFile)

	var allowedWriter *csv.Writer
	if allowedPath != "" {
		allowedFile, err := os.Create(allowedPath)
		if err != nil {
			return err
		}
		defer allowedFile.Close()
		allowedWriter = csv.NewWriter(allowedFile)
	}

	header := []string{"source", "destination", "port", "protocol", "decision", "matched_rule", "reason"}
	outWriter.Write(header)
	if allowedWriter != nil {
		allowedWriter.Write(header)
	}

	for _, v := range verdicts {
		record := []string{
			v.Flow.Source,
			v.Flow.Destination,
			strconv.Itoa(v.Flow.Port),
			protocolLabel(v.Flow.Protocol),
			v.Decision,
			v.MatchedRule,
			v.Reason,
		}
		outWriter.Write(record)
		if allowedWriter != nil && v.Decision == engine.DecisionAllow {
			allowedWriter.Write(record)
		}
	}

	outWriter.Flush()
	if err := outWriter.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	if allowedWriter != nil {
		allowedWriter.Flush()
		if err := allowedWriter.Error(); err != nil {
			return fmt.Errorf("failed to write %s: %w", allowedPath, err)
		}
	}
	return nil
}

func protocolLabel(number int) string {
	if name, ok := wellknown.ProtocolName(number); ok {
		return name
	}
	return strconv.Itoa(number)
}
