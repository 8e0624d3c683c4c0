package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/statement-categorizer/internal/config"
	"github.com/dvloznov/statement-categorizer/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "statement",
		Short: "Extract and categorize transactions from bank statements",
		Long: `statement turns PDF bank statements into categorized transactions.

It reads text natively when the PDF carries it, falls back to OCR for
scanned pages, and asks the configured model to categorize every line.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initConfig,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: ./statement.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = c.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(c.processCmd())
	root.AddCommand(c.tokensCmd())
	root.AddCommand(c.uploadCmd())
	return root
}

func (c *cli) initConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	cmd.SetContext(logger.WithContext(cmd.Context(), log))
	return nil
}
