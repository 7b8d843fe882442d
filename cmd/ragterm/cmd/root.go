// Package cmd provides the CLI commands for ragterm.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ragterm/internal/config"
	"ragterm/internal/logging"
	"ragterm/internal/shell"
	"ragterm/internal/tui"
)

// globalOptions are the persistent flags plus what PersistentPreRunE loads.
type globalOptions struct {
	configPath string
	debug      bool

	cfg            *config.AppConfig
	cfgPath        string
	loggingCleanup func()
}

// NewRootCmd creates the root command for the ragterm CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var indexOnStart bool

	cmd := &cobra.Command{
		Use:   "ragterm",
		Short: "Ask questions about your local files from the terminal",
		Long: `ragterm indexes text and code files into a vector store and answers
questions about them with a local or hosted language model.

Run 'ragterm' in a project directory for the interactive terminal UI,
or use the index and ask subcommands from scripts.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), opts, indexOnStart)
		},
	}

	cmd.Flags().BoolVar(&indexOnStart, "index", false, "Start indexing as soon as the UI opens")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config (default ./ragterm.yaml, then ~/.config/ragterm/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.setup(cmd.Name() != "ragterm")
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		if opts.loggingCleanup != nil {
			opts.loggingCleanup()
		}
		return nil
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	return cmd
}

// setup loads .env, the config file and the logger. Headless commands
// also log to stderr so failures are visible without opening the log file.
func (o *globalOptions) setup(headless bool) error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}

	var err error
	if o.configPath != "" {
		o.cfg, err = config.Load(o.configPath)
		o.cfgPath = o.configPath
	} else {
		o.cfg, o.cfgPath, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	level := o.cfg.Logging.Level
	if o.debug {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:    level,
		FilePath: o.cfg.Logging.File,
		Stderr:   headless && o.debug,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.Info("ragterm starting",
		slog.String("config", o.cfgPath),
		slog.String("embedder", o.cfg.Embedder.Type),
		slog.String("store", o.cfg.VectorStore.Type),
		slog.String("generator", o.cfg.Generator.Type))
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context,
// which cancels any running job.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runTUI(ctx context.Context, opts *globalOptions, indexOnStart bool) error {
	if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
		return errors.New("the interactive UI needs a terminal; use 'ragterm index' or 'ragterm ask' instead")
	}

	a, err := buildApp(opts.cfg)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	m := tui.New(ctx, a.orch, shell.New(cwd), tui.Options{
		IndexOnStart: indexOnStart,
		Banner:       a.banner,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
