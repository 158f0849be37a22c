package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"phobos.org.uk/agentbridge/internal/config"
	"phobos.org.uk/agentbridge/internal/logging"
)

// globalFlags are shared by every subcommand that loads configuration.
type globalFlags struct {
	configPath string
	bin        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "agentbridge",
		Short:         "Drive coding-agent subprocesses as conversational sessions",
		Long:          "agentbridge spawns backend agent processes per session, runs bounded multi-step turns against them and exposes sessions over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&g.bin, "bin", "", "Backend executable (overrides config)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(&g),
		newRunCmd(&g),
		newAskCmd(),
		newHashTokenCmd(),
	)

	return rootCmd
}

// load resolves the configuration from the config file and flag overrides.
func (g *globalFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if g.bin != "" {
		cfg.Backend.Bin = g.bin
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	return logging.New(logging.Config{
		Output:     out,
		Level:      logging.ParseLevel(cfg.LogLevel),
		Component:  "bridge",
		MaxEntries: 1000,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
