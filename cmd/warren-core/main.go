package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warren-core/internal/config"
	"github.com/cuemby/warren-core/pkg/boot"
	"github.com/cuemby/warren-core/pkg/kerrors"
	"github.com/cuemby/warren-core/pkg/log"
	"github.com/cuemby/warren-core/pkg/metrics"
	"github.com/cuemby/warren-core/pkg/substrate"
	"github.com/cuemby/warren-core/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(kerrors.ExitInternal))
	}
}

var rootCmd = &cobra.Command{
	Use:   "warren-core",
	Short: "warren-core - resilient orchestration core for an autonomous agent platform",
	Long: `warren-core runs the Message Bus, Immutable Log, Clarity Kernel,
Verification Framework, Governance engine, Intent Router, Control Plane,
and Watchdogs as one always-on process, brought up through a structured
Boot Pipeline.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"warren-core version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("ledger-path", "./warren-core.ledger.jsonl", "Immutable Log backing file")
	rootCmd.PersistentFlags().String("config-file", "", "Optional YAML tunables file (env vars still take precedence)")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
	rootCmd.PersistentFlags().Int("heartbeat-timeout-sec", 0, "Heartbeat timeout in seconds (0 = component default)")
	rootCmd.PersistentFlags().Int("quarantine-threshold", 0, "Trust score quarantine threshold (0 = component default)")
	rootCmd.PersistentFlags().Int("verify-interval-sec", 0, "Verification cycle interval in seconds (0 = component default)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(shutdownCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig merges the optional YAML file, environment variables, and
// any explicitly-set persistent flags, in that ascending order of
// precedence, matching §10's flag-beats-env-beats-default rule.
func loadConfig(cmd *cobra.Command) config.Config {
	configFile, _ := cmd.Flags().GetString("config-file")
	cfg := config.LoadWithOverrides(configFile)

	if v, _ := cmd.Flags().GetInt("heartbeat-timeout-sec"); v > 0 {
		cfg.HeartbeatTimeoutSec = v
	}
	if v, _ := cmd.Flags().GetInt("quarantine-threshold"); v > 0 {
		cfg.QuarantineThreshold = v
	}
	if v, _ := cmd.Flags().GetInt("verify-interval-sec"); v > 0 {
		cfg.VerifyIntervalSec = v
	}
	return cfg
}

// newRuntime constructs (but does not start) a substrate.Runtime over the
// ledger path and merged configuration.
func newRuntime(cmd *cobra.Command) (*substrate.Runtime, error) {
	ledgerPath, _ := cmd.Flags().GetString("ledger-path")
	return substrate.New(ledgerPath, loadConfig(cmd))
}

// serveMetrics starts the metrics/health HTTP server in the background
// and returns the *http.Server so callers can shut it down gracefully.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
	return srv
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run the Boot Pipeline and stay resident until terminated",
	Long: `boot constructs every component, runs the Boot Pipeline stage by
stage, and — once the pipeline reports "ready" — stays resident serving
the metrics/health HTTP endpoints until SIGINT/SIGTERM, at which point it
performs a graceful shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics.SetVersion(Version)

		rt, err := newRuntime(cmd)
		if err != nil {
			return fmt.Errorf("boot: construct runtime: %w", err)
		}

		pipeline := boot.New(rt.Ledger)
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		var metricsSrv *http.Server

		registerBootSteps(pipeline, rt, metricsAddr, &metricsSrv)

		bootID := uuid.New().String()
		report, runErr := pipeline.Run(bootID)

		printBootReport(report)
		if runErr != nil {
			return fmt.Errorf("boot: %w", runErr)
		}

		fmt.Println("warren-core is running. Press Ctrl+C to stop.")
		fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down...")
		rt.Stop()
		if metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

// registerBootSteps wires the fixed stage order of §4.9 around a
// substrate.Runtime's own construct/start lifecycle: each stage names a
// coarse phase of bringing the runtime up rather than re-deriving the
// kernel-by-kernel sequencing Runtime.Start already performs.
func registerBootSteps(pipeline *boot.Pipeline, rt *substrate.Runtime, metricsAddr string, metricsSrv **http.Server) {
	_ = pipeline.AddStep(&boot.Step{
		Name:     "load_config",
		Stage:    types.StagePreInit,
		Critical: true,
		ExecuteFn: func() error {
			return nil // config was already merged by newRuntime
		},
	})

	_ = pipeline.AddStep(&boot.Step{
		Name:         "open_ledger",
		Stage:        types.StageCoreInit,
		Critical:     true,
		Dependencies: []string{"load_config"},
		ExecuteFn: func() error {
			if rt.Ledger == nil {
				return fmt.Errorf("ledger not opened")
			}
			return nil
		},
	})

	_ = pipeline.AddStep(&boot.Step{
		Name:         "start_kernels",
		Stage:        types.StageKernelInit,
		Critical:     true,
		Dependencies: []string{"open_ledger"},
		ExecuteFn:    rt.Start,
	})

	_ = pipeline.AddStep(&boot.Step{
		Name:         "start_metrics_http",
		Stage:        types.StageAPIInit,
		Critical:     false,
		Dependencies: []string{"start_kernels"},
		ExecuteFn: func() error {
			*metricsSrv = serveMetrics(metricsAddr)
			metrics.RegisterComponent("bus", true, "running")
			metrics.RegisterComponent("ledger", true, "running")
			metrics.RegisterComponent("control", true, "running")
			return nil
		},
	})

	_ = pipeline.AddStep(&boot.Step{
		Name:         "verify_all",
		Stage:        types.StageVerification,
		Critical:     true,
		Dependencies: []string{"start_kernels"},
		ExecuteFn: func() error {
			report := rt.Verify.VerifyAll()
			for _, v := range report.Violations {
				if v.Severity == types.SeverityCritical {
					return fmt.Errorf("critical verification violation: %s", v.RuleID)
				}
			}
			return nil
		},
	})

	_ = pipeline.AddStep(&boot.Step{
		Name:         "mark_ready",
		Stage:        types.StageReady,
		Critical:     true,
		Dependencies: []string{"verify_all"},
		ExecuteFn: func() error {
			return nil
		},
	})
}

func printBootReport(report boot.Report) {
	fmt.Printf("boot %s: %s (%d/%d steps ok, %.3fs)\n",
		report.BootID, report.Status, report.StepsExecuted-report.StepsFailed, report.StepsExecuted, report.DurationSec)
	if report.FailedStep != "" {
		fmt.Printf("  failed step: %s\n", report.FailedStep)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the control plane's kernel status as JSON",
	Long: `status constructs a Runtime, starts it just long enough to read the
Control Plane's kernel table, and prints the result as JSON. Intended for
scripting against a short-lived process, not the resident "boot" process
(use its /metrics and /health endpoints for that instead).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return fmt.Errorf("status: construct runtime: %w", err)
		}
		defer rt.Stop()

		if err := rt.Start(); err != nil {
			return fmt.Errorf("status: start runtime: %w", err)
		}

		status := rt.Control.GetStatus()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run verify_all once and print the report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return fmt.Errorf("verify: construct runtime: %w", err)
		}
		defer rt.Stop()

		if err := rt.Start(); err != nil {
			return fmt.Errorf("verify: start runtime: %w", err)
		}

		report := rt.Verify.VerifyAll()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		for _, v := range report.Violations {
			if v.Severity == types.SeverityCritical {
				os.Exit(int(kerrors.ExitVerificationCritical))
			}
		}
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Signal a resident boot process to stop gracefully",
	Long: `shutdown sends SIGTERM to the named process ID. It exists as a
documented equivalent of "kill -TERM <pid>" for operators who prefer the
warren-core CLI surface for every lifecycle operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, _ := cmd.Flags().GetInt("pid")
		if pid <= 0 {
			return fmt.Errorf("shutdown: --pid is required")
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Printf("sent SIGTERM to pid %d\n", pid)
		return nil
	},
}

func init() {
	shutdownCmd.Flags().Int("pid", 0, "Process ID of the resident boot process (required)")
}
