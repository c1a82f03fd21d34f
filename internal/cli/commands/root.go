package commands

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	flexilite "github.com/slanska/flexilite-sub000"
	"github.com/slanska/flexilite-sub000/internal/cli/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	dbPath     string
	engine     string
	mode       string
	verbose    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "flexictl",
		Short: "Administer flexilite databases",
		Long: color.CyanString(`flexictl - flexilite administration tool

Define and alter classes with JSON, inspect and edit objects, run
queries through the planner, and look at storage statistics.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Config file (default ./flexictl.yaml)")
	pf.StringVar(&flags.dbPath, "db", "", "Database file (overrides storage.path)")
	pf.StringVar(&flags.engine, "engine", "", "Storage engine: bolt, sqlite or memory (overrides storage.engine)")
	pf.StringVar(&flags.mode, "mode", "", "Validation mode for alterations: ABORT or IGNORE")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewClassCommand(flags))
	rootCmd.AddCommand(NewPropCommand(flags))
	rootCmd.AddCommand(NewObjectCommand(flags))
	rootCmd.AddCommand(NewQueryCommand(flags))
	rootCmd.AddCommand(NewRunCommand(flags))
	rootCmd.AddCommand(NewStatsCommand(flags))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			titleColor := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()
			titleColor.Fprint(out, "flexictl version: ")
			fmt.Fprintln(out, Version)
			titleColor.Fprint(out, "Git commit: ")
			fmt.Fprintln(out, GitCommit)
			titleColor.Fprint(out, "Go version: ")
			fmt.Fprintln(out, runtime.Version())
		},
	}
}

// loadConfig merges the config file with command-line overrides
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.dbPath != "" {
		cfg.Storage.Path = f.dbPath
	}
	if f.engine != "" {
		cfg.Storage.Engine = strings.ToLower(f.engine)
	}
	if f.mode != "" {
		cfg.Alter.ValidationMode = f.mode
	}
	if f.verbose {
		cfg.Log.Verbose = true
	}
	return cfg, nil
}

// withConn opens the configured database for the duration of fn
func (f *globalFlags) withConn(fn func(c *flexilite.Conn, cfg *config.Config) error) error {
	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	if _, err := flexilite.ParseValidationMode(cfg.Alter.ValidationMode); err != nil {
		return err
	}
	db, err := cfg.Open()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db.Connect(), cfg)
}

// readPayload interprets a JSON argument: "@file" reads a file, "-" reads
// stdin, anything else is taken literally.
func readPayload(cmd *cobra.Command, arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg[1:], err)
		}
		return data, nil
	}
	return []byte(arg), nil
}

func printSuccess(cmd *cobra.Command, format string, args ...any) {
	successColor := color.New(color.FgGreen, color.Bold)
	successColor.Fprint(cmd.OutOrStdout(), "✓ ")
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
