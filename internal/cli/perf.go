package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/payramp/internal/loadtest/config"
	"github.com/wesleyorama2/payramp/internal/loadtest/engine"
	"github.com/wesleyorama2/payramp/internal/loadtest/executor"
	"github.com/wesleyorama2/payramp/internal/loadtest/output"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Run a load test against the payment API",
	Long: `Run a load test from a configuration file, or the built-in payment ramp
when no file is given: 0 -> 10 VUs over 30s, 10 VUs for 1m, 10 -> 0 over 30s,
each VU calling GET {{baseUrl}}/pay and sleeping 1s.

  payramp perf
  payramp perf --config scenarios/pay-breaker.yaml
  payramp perf --base-url http://localhost:8080 --stages "10s:5,30s:5,10s:0"
  payramp perf --executor constant-vus --vus 20 --duration 1m --rps 50

Interrupting the run (Ctrl+C) stops the VUs and lets in-flight requests
finish within the scenario's gracefulStop; a second interrupt aborts.
The command exits non-zero when a threshold fails.`,
	Args: cobra.NoArgs,
	RunE: runPerfTest,
}

// defaultCLIDuration is used when switching to constant-vus without --duration.
const defaultCLIDuration = "30s"

// perfOverrides are the command line settings applied on top of the test
// configuration.
type perfOverrides struct {
	BaseURL  string
	Executor string
	VUs      int
	Duration string
	Stages   string
	RPS      float64
}

func runPerfTest(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	formatName, _ := cmd.Flags().GetString("format")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	var overrides perfOverrides
	overrides.BaseURL, _ = cmd.Flags().GetString("base-url")
	overrides.Executor, _ = cmd.Flags().GetString("executor")
	overrides.VUs, _ = cmd.Flags().GetInt("vus")
	overrides.Duration, _ = cmd.Flags().GetString("duration")
	overrides.Stages, _ = cmd.Flags().GetString("stages")
	overrides.RPS, _ = cmd.Flags().GetFloat64("rps")

	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}

	testConfig, err := loadTestConfig(configFile, overrides)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(testConfig)
	if err != nil {
		return err
	}
	eng.SetLogger(log.StandardLogger())

	// With --json the result owns stdout; progress goes to stderr.
	consoleWriter := cmd.OutOrStdout()
	if jsonOutput {
		consoleWriter = cmd.ErrOrStderr()
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      testConfig.Name,
		ExecutorType:  displayExecutor(testConfig),
		TotalDuration: testConfig.TotalDuration(),
		Writer:        consoleWriter,
		Quiet:         quiet,
		NoColors:      noColor,
	})

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	result, runErr := runWithProgress(sigCtx, eng, console, quiet)
	if result == nil {
		return runErr
	}
	if runErr != nil {
		log.WithError(runErr).Warn("Test finished with errors")
	}

	console.PrintSummary(result)

	if jsonOutput {
		if err := output.WriteResult(cmd.OutOrStdout(), result, format); err != nil {
			return err
		}
	}
	if outputPath != "" {
		if err := output.WriteResultFile(outputPath, result); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(consoleWriter, "Results written to: %s\n", outputPath)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return errThresholdsFailed
	}
	return nil
}

// runWithProgress runs eng and refreshes the console every second. The
// first cancellation of sigCtx stops the engine gracefully; a second
// interrupt cancels requests in flight.
func runWithProgress(sigCtx context.Context, eng *engine.Engine, console *output.ConsoleOutput, quiet bool) (*engine.TestResult, error) {
	runCtx, abort := context.WithCancel(context.Background())
	defer abort()

	type runResult struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := eng.Run(runCtx)
		done <- runResult{result, err}
	}()

	console.PrintHeader()

	cfg := eng.GetConfig()
	totalDuration := cfg.TotalDuration()
	targetVUs := cfg.MaxVUs()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	signals := sigCtx.Done()
	for {
		select {
		case r := <-done:
			return r.result, r.err

		case <-signals:
			signals = nil
			log.Warn("Interrupted, stopping VUs gracefully (interrupt again to abort)")

			again := make(chan os.Signal, 1)
			signal.Notify(again, os.Interrupt, syscall.SIGTERM)
			go func() {
				defer signal.Stop(again)
				select {
				case <-again:
					abort()
				case <-runCtx.Done():
				}
			}()
			go func() {
				_ = eng.Stop(runCtx)
			}()

		case <-ticker.C:
			if !eng.IsRunning() {
				continue
			}
			current, total := stageInfo(eng.GetScenarioStats())
			stats := output.StatsFromMetrics(eng.GetMetrics(), eng.GetProgress(), totalDuration, targetVUs, current, total)

			if console.IsTTY() {
				console.Update(stats)
			} else if !quiet {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// loadTestConfig reads the configuration file, or builds the default
// payment ramp, and applies the command line overrides.
func loadTestConfig(path string, o perfOverrides) (*config.TestConfig, error) {
	var cfg *config.TestConfig
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(o.BaseURL)
	}

	if err := applyOverrides(cfg, o); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides applies the load profile flags to every scenario.
func applyOverrides(cfg *config.TestConfig, o perfOverrides) error {
	if o.BaseURL != "" {
		cfg.Settings.BaseURL = o.BaseURL
	}
	if o.RPS > 0 {
		cfg.Settings.RPS = o.RPS
	}

	var stages []config.StageConfig
	if o.Stages != "" {
		var err error
		if stages, err = parseStages(o.Stages); err != nil {
			return fmt.Errorf("invalid stages format: %w", err)
		}
	}

	for _, sc := range cfg.Scenarios {
		// Stages imply ramping-vus; vus or duration alone imply constant-vus.
		executorType := o.Executor
		if executorType == "" {
			switch {
			case stages != nil:
				executorType = string(executor.TypeRampingVUs)
			case o.VUs > 0 || o.Duration != "":
				executorType = string(executor.TypeConstantVUs)
			default:
				continue
			}
		}
		if !executor.IsValidExecutorType(executorType) {
			return fmt.Errorf("unsupported executor: %s (supported: %v)", executorType, executor.GetSupportedExecutors())
		}

		sc.Executor = executorType
		switch executor.Type(executorType) {
		case executor.TypeRampingVUs:
			if stages != nil {
				sc.Stages = stages
			}
			sc.VUs = 0
			sc.Duration = ""
		case executor.TypeConstantVUs:
			if o.VUs > 0 {
				sc.VUs = o.VUs
			} else if sc.VUs == 0 {
				sc.VUs = config.ScenarioMaxVUs(sc)
			}
			if o.Duration != "" {
				sc.Duration = o.Duration
			} else if sc.Duration == "" {
				sc.Duration = defaultCLIDuration
			}
			sc.Stages = nil
		}
	}
	return nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	for i, part := range strings.Split(stagesStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr, targetStr := part[:colonIdx], part[colonIdx+1:]

		if _, err := config.ParseDurationString(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

// displayExecutor returns the executor shown in the header, or "" when the
// scenarios mix executors.
func displayExecutor(cfg *config.TestConfig) string {
	var name string
	for _, sc := range cfg.Scenarios {
		if name != "" && name != sc.Executor {
			return ""
		}
		name = sc.Executor
	}
	return name
}

// stageInfo returns the furthest stage reached across scenarios.
func stageInfo(stats map[string]*executor.Stats) (current, total int) {
	for _, s := range stats {
		if s == nil {
			continue
		}
		if s.CurrentStage > current {
			current = s.CurrentStage
		}
		if s.TotalStages > total {
			total = s.TotalStages
		}
	}
	return current, total
}

func init() {
	perfCmd.Flags().StringP("config", "c", "", "Load test configuration file (YAML or JSON); defaults to the payment ramp")
	perfCmd.Flags().StringP("base-url", "u", "", "Base URL of the payment API (default "+config.DefaultBaseURL+")")

	perfCmd.Flags().String("executor", "", "Executor type: constant-vus, ramping-vus")
	perfCmd.Flags().Int("vus", 0, "Number of virtual users (constant-vus)")
	perfCmd.Flags().String("duration", "", "Test duration for constant-vus (e.g., 5m, 30s)")
	perfCmd.Flags().String("stages", "", "Stages as 'duration:target,...' for ramping-vus")
	perfCmd.Flags().Float64("rps", 0, "Cap on requests per second across all VUs (0 = unlimited)")

	perfCmd.Flags().Bool("json", false, "Write the result to stdout (progress moves to stderr)")
	perfCmd.Flags().String("format", "json", "Result format for --json: json, yaml")
	perfCmd.Flags().StringP("output", "o", "", "Write the result to a file (.json, .yaml)")
	perfCmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, print only PASSED/FAILED")
	perfCmd.Flags().Bool("no-color", false, "Disable colored output")
}
