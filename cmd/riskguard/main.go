// RiskGuard - Behavioral risk decisions for subscriber events.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskguard/internal/config"
	"github.com/opensource-finance/riskguard/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	cfg     *domain.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "riskguard",
		Short: "Behavioral risk decision engine",
		Long: `riskguard evaluates subscriber events against user-authored risk rules,
picks one action per event, keeps a cumulative risk profile per subscriber
and opens fraud cases when the risk is high enough.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				loaded.Logging.Level = lvl
			}
			cfg = loaded
			slog.SetDefault(newLogger(cfg.Logging))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./riskguard.yaml or /etc/riskguard/riskguard.yaml)")
	root.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newEvaluateCmd(), newRulesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine readable.
func newLogger(lc domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(lc.Level)}

	var handler slog.Handler
	switch strings.ToLower(lc.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
