// Package main provides the CLI entry point for plannerd, a multi-tenant
// agent orchestration runtime.
//
// # Basic usage
//
// Run a task against a tenant:
//
//	plannerd run --tenant acme --task "find unread invoices in gmail"
//
// Serve Prometheus metrics alongside a run:
//
//	plannerd run --tenant acme --task "..." --metrics-port 9090
//
// # Environment variables
//
//   - PLANNERD_CONFIG: path to the YAML config file (default: plannerd.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: Planner LLM Adapter credentials
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"net/http"

	"github.com/taskrun/plannerd/internal/config"
	"github.com/taskrun/plannerd/internal/events"
	"github.com/taskrun/plannerd/internal/llm"
	"github.com/taskrun/plannerd/internal/orchestrator"
	"github.com/taskrun/plannerd/internal/registry"
	"github.com/taskrun/plannerd/internal/store"
	"github.com/taskrun/plannerd/internal/usage"
	"github.com/taskrun/plannerd/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "plannerd",
		Short:        "plannerd - multi-tenant agent orchestration runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var (
		configPath  string
		tenantID    string
		userID      string
		task        string
		extraCtx    string
		metricsPort int
		storePath   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task to completion for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if task == "" {
				return fmt.Errorf("--task is required")
			}
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
				level = slog.LevelInfo
			}
			var handler slog.Handler
			if cfg.Logging.Format == "text" {
				handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			} else {
				handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			}
			slog.SetDefault(slog.New(handler))

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			providerReg := registry.New()
			providerReg.Publish(tenantID, &registry.Snapshot{Tenant: tenantID, Entries: map[string]registry.Entry{}})

			metricsReg := prometheus.NewRegistry()
			metricsSink := events.NewMetricsSink(metricsReg)
			var runID string
			stdoutSink := events.NewCallbackSink(func(_ context.Context, e models.RunEvent) {
				if runID == "" {
					runID = e.RunID
				}
				line, err := json.Marshal(e)
				if err != nil {
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
			})
			sinks := []events.Sink{metricsSink, stdoutSink}

			var db *store.Store
			if storePath != "" {
				var err error
				db, err = store.Open(storePath)
				if err != nil {
					return fmt.Errorf("open run store: %w", err)
				}
				defer db.Close()
				sinks = append(sinks, db)
			}
			sink := events.NewMultiSink(sinks...)

			if metricsPort > 0 {
				go serveMetrics(metricsPort, metricsReg)
			}

			opts := orchestrator.Options{
				DefaultBudget:                cfg.Runtime.DefaultBudget.Resolve(),
				LLMRequestTimeout:            cfg.Runtime.LLMRequestTimeout,
				MaxConsecutiveProtocolErrors: cfg.Runtime.MaxConsecutiveProtocolErrors,
				MaxConsecutiveEmptySearches:  cfg.Runtime.MaxConsecutiveEmptySearches,
			}
			o := orchestrator.New(providerReg, provider, opts, sink, slog.Default())

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			started := time.Now()
			result, err := o.Execute(ctx, task, models.TenantContext{TenantID: tenantID, UserID: userID}, nil, extraCtx)
			if err != nil {
				return err
			}
			elapsed := time.Since(started)

			if db != nil && runID != "" {
				if err := db.PersistResult(ctx, runID, tenantID, result); err != nil {
					slog.Error("failed to persist run", "run_id", runID, "error", err)
				}
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			fmt.Fprintln(cmd.ErrOrStderr(), summarize(result, opts.DefaultBudget, elapsed))
			if !result.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", envOr("PLANNERD_CONFIG", "plannerd.yaml"), "path to config file")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id to run under")
	cmd.Flags().StringVar(&userID, "user", "", "user id attributed to this run")
	cmd.Flags().StringVar(&task, "task", "", "task text for the planner")
	cmd.Flags().StringVar(&extraCtx, "extra-context", "", "optional free-text context appended to every prompt")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	cmd.Flags().StringVar(&storePath, "store", "", "persist this run to a SQLite database at this path (empty disables persistence)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	name := cfg.LLM.DefaultProvider
	pcfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider configuration for %q", name)
	}

	switch name {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       pcfg.APIKey(),
			BaseURL:      pcfg.BaseURL,
			DefaultModel: pcfg.DefaultModel,
		})
	case "openai":
		return llm.NewOpenAIProvider(pcfg.APIKey(), pcfg.DefaultModel)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

func serveMetrics(port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

// summarize renders a one-line human-readable trailer for a completed run:
// wall-clock duration, steps taken as a percentage of the step budget (when
// one is set), and estimated LLM cost.
func summarize(result *models.MCPTaskResult, budget models.Budget, elapsed time.Duration) string {
	status := "ok"
	if !result.Success {
		status = "failed"
		if result.ErrorCode != "" {
			status = "failed: " + result.ErrorCode
		}
	}

	parts := []string{status, usage.FormatDurationMs(elapsed.Milliseconds())}
	if cost := usage.FormatUSD(result.BudgetUsage.EstimatedLLMCostUSD); cost != "" {
		parts = append(parts, cost+" estimated LLM cost")
	}
	stepsPart := fmt.Sprintf("%d steps", result.BudgetUsage.StepsTaken)
	if pct := stepBudgetPercentage(result.BudgetUsage.StepsTaken, budget.MaxSteps); pct != "" {
		stepsPart += fmt.Sprintf(" (%s of budget)", pct)
	}
	parts = append(parts, stepsPart)
	return strings.Join(parts, " | ")
}

// stepBudgetPercentage reports what fraction of result's step budget was
// consumed, for callers that want to warn as a run approaches its limit.
// maxSteps <= 0 means the axis is disabled, so there is no meaningful
// percentage to report.
func stepBudgetPercentage(stepsTaken, maxSteps int) string {
	if maxSteps <= 0 {
		return ""
	}
	return usage.FormatPercentage(100 * float64(stepsTaken) / float64(maxSteps))
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
