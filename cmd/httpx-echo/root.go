package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"dqx0.com/go/httpwire/config"
	"dqx0.com/go/httpwire/internal/obs"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "httpx-echo",
		Short:         "httpx-echo serves and fetches HTTP/1.1 over the httpx engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file path (built-in defaults when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override log format: text, json")

	root.AddCommand(newServeCmd(a), newGetCmd(a), newConfigCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	level, err := obs.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return err
	}
	a.log = obs.NewLogger(cmd.ErrOrStderr(), level, a.cfg.Log.Format)
	return nil
}
