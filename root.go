package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/scrybble-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVaultDir   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	VaultDir   *string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a subcommand needs: the resolved config, the
// logger built from it, and the raw overrides so watch mode can reapply them
// on reload.
type CLIContext struct {
	Flags   CLIFlags
	Cfg     *config.Config
	CfgPath string
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Logger  *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrybble",
		Short: "Sync reMarkable documents into an Obsidian vault",
		Long: `Request, track, and download reMarkable documents rendered by Scrybble,
writing the PDF and Markdown of each one into your Obsidian vault.`,
		Version: version,
		// Errors are printed once by main.
		SilenceErrors:      true,
		SilenceUsage:       true,
		PersistentPreRunE:  setupCLIContext,
		PersistentPostRunE: teardownCLIContext,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagVaultDir, "vault", "", "Obsidian vault directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newRequestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newForgetCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupCLIContext resolves the effective configuration from the four-layer
// override chain, builds the logger, and stores both in the command context.
func setupCLIContext(cmd *cobra.Command, _ []string) error {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	// Only pass --vault to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("vault") {
		v := flagVaultDir
		flags.VaultDir = &v
	}

	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		VaultDir:   flags.VaultDir,
	}
	env := config.ReadEnvOverrides()

	cfg, cfgPath, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer := buildLogger(&cfg.LoggingConfig, flags)

	logger.Debug("config resolved",
		slog.String("path", cfgPath),
		slog.String("server", cfg.ServerURL()),
		slog.String("vault_dir", cfg.VaultDir),
	)

	cc := &CLIContext{
		Flags:     flags,
		Cfg:       cfg,
		CfgPath:   cfgPath,
		Env:       env,
		CLI:       cli,
		Logger:    logger,
		logCloser: closer,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

func teardownCLIContext(cmd *cobra.Command, _ []string) error {
	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc.logCloser == nil {
		return nil
	}

	if err := cc.logCloser.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}

	return nil
}

// logLevel picks the level: the config file provides the baseline and
// --verbose / --quiet override it because CLI flags always win.
func logLevel(l *config.LoggingConfig, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch l.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the process logger. With log_file set, output goes to
// a size-rotated file; otherwise to stderr. The returned closer is nil for
// stderr.
func buildLogger(l *config.LoggingConfig, flags CLIFlags) (*slog.Logger, io.Closer) {
	if l.LogFile == "" {
		tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

		return newLogger(os.Stderr, l, flags, tty), nil
	}

	rotator := &lumberjack.Logger{
		Filename:   l.LogFile,
		MaxSize:    l.LogMaxSizeMB,
		MaxBackups: l.LogMaxBackups,
		MaxAge:     l.LogRetentionDays,
		Compress:   true,
	}

	return newLogger(rotator, l, flags, false), rotator
}

// newLogger builds the handler for w. "auto" is text on a terminal and JSON
// everywhere else.
func newLogger(w io.Writer, l *config.LoggingConfig, flags CLIFlags, terminal bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(l, flags)}

	format := l.LogFormat
	if format == "auto" || format == "" {
		format = "json"
		if terminal {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
