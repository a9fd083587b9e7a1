package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/hubroute/internal/config"
	clierr "github.com/ggonzalez94/hubroute/internal/errors"
	"github.com/ggonzalez94/hubroute/internal/logging"
	"github.com/ggonzalez94/hubroute/internal/metrics"
	"github.com/ggonzalez94/hubroute/internal/model"
	"github.com/ggonzalez94/hubroute/internal/orders"
	"github.com/ggonzalez94/hubroute/internal/out"
	"github.com/ggonzalez94/hubroute/internal/policy"
	"github.com/ggonzalez94/hubroute/internal/prefs"
	"github.com/ggonzalez94/hubroute/internal/schema"
	"github.com/ggonzalez94/hubroute/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	root         *cobra.Command
	lastCommand  string
	lastChainID  int64
	lastWarnings []string

	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	prefs    *prefs.Store
	orders   *orders.Store
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.prefs != nil {
		_ = s.prefs.Close()
	}
	if s.orders != nil {
		_ = s.orders.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Route swaps between a DEX and the liquidity hub",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			s.log = logging.New(settings.LogLevel, settings.OutputMode)
			s.registry = prometheus.NewRegistry()
			s.metrics = metrics.New(s.registry)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted for nested)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Hub and telemetry request timeout")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per hub quote request")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&s.flags.Chain, "chain", "", "Chain name or id")
	pf.StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC URL override for the selected chain")
	pf.StringVar(&s.flags.Account, "account", "", "Account address for read-only commands")
	pf.StringVar(&s.flags.Partner, "partner", "", "Partner identifier sent to the hub")
	pf.StringVar(&s.flags.APIURL, "api-url", "", "Hub API base URL")
	pf.Float64Var(&s.flags.Slippage, "slippage", -1, "Slippage tolerance in percent")
	pf.StringVar(&s.flags.QuoteInterval, "quote-interval", "", "Quote refresh interval")
	pf.BoolVar(&s.flags.NoTelemetry, "no-telemetry", false, "Do not send trade telemetry")
	for flag, env := range map[string]string{
		"timeout": "HUBROUTE_TIMEOUT", "retries": "HUBROUTE_RETRIES", "log-level": "HUBROUTE_LOG_LEVEL",
		"chain": "HUBROUTE_CHAIN", "rpc-url": "HUBROUTE_RPC_URL", "account": "HUBROUTE_ACCOUNT",
		"partner": "HUBROUTE_PARTNER", "api-url": "HUBROUTE_API_URL", "slippage": "HUBROUTE_SLIPPAGE",
		"quote-interval": "HUBROUTE_QUOTE_INTERVAL", "no-telemetry": "HUBROUTE_NO_TELEMETRY",
	} {
		_ = pf.SetAnnotation(flag, schema.EnvAnnotation, []string{env})
	}

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newWatchCommand())
	cmd.AddCommand(s.newOrdersCommand())
	cmd.AddCommand(s.newSettingsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, 0)
		},
	}
}

func (s *runtimeState) ensurePrefs() (*prefs.Store, error) {
	if s.prefs != nil {
		return s.prefs, nil
	}
	store, err := prefs.Open(s.settings.PrefsPath, s.settings.PrefsLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open preference store", err)
	}
	s.prefs = store
	return store, nil
}

func (s *runtimeState) ensureOrders() (*orders.Store, error) {
	if s.orders != nil {
		return s.orders, nil
	}
	store, err := orders.Open(s.settings.OrdersPath, s.settings.OrdersLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open order store", err)
	}
	s.orders = store
	return store, nil
}

// commandContext is cancelled by the command's own context only; per-call
// timeouts live in the http and rpc clients.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *runtimeState) emitSuccess(commandPath string, data any, latency time.Duration) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: s.lastWarnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.lastChainID,
			LatencyMS: latency.Milliseconds(),
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) warn(msg string) {
	s.lastWarnings = append(s.lastWarnings, msg)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.TypeName(clierr.CodeInternal)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Error()
		typ = clierr.TypeName(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: s.lastWarnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.lastChainID,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
