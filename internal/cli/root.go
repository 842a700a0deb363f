package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nara",
	Short: "Nara - personal AI agent with a Markdown memory",
	Long: `Nara is a personal AI agent whose memory is a directory of Markdown
files. It indexes that memory for hybrid keyword and vector search,
assembles it into prompts, runs background heartbeat checks, and talks
over pluggable channels.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then $HOME/.nara/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the effective configuration, honoring the --config and
// --log-level flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newConsoleLogger builds a stderr-only logger for one-shot commands, so
// stdout stays clean for command output.
func newConsoleLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	l, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.GetZerolog(), func() { _ = l.Close() }, nil
}

// newRuntimeLogger builds the file-backed logger used by long-running
// commands. Console output is off for chat so log lines do not interleave
// with the REPL.
func newRuntimeLogger(cfg *config.Config, console bool) (zerolog.Logger, func(), error) {
	l, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l.GetZerolog(), func() { _ = l.Close() }, nil
}
