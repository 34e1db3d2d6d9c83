package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srg/mitch/internal/devicefactory"
)

// stateCmd represents the state command
var stateCmd = &cobra.Command{
	Use:   "state <name>",
	Short: "Print the state of a mitch device",
	Long: `Discover the named device, connect, query its state and disconnect.

Example:
  mitch state mitch01
  mitch state mitch01 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

var stateFormat string

func init() {
	stateCmd.Flags().StringVarP(&stateFormat, "format", "f", "text", "Output format (text, json)")
}

func runState(cmd *cobra.Command, args []string) error {
	if stateFormat != "text" && stateFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", stateFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	sink, err := devicefactory.NewSink(cfg, io.Discard, logger)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger, sink)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context(), 0)
	defer cancel()

	a.start(ctx)
	id, err := a.connect(ctx, args[0])
	if err != nil {
		return err
	}

	sum, err := a.control.GetSession(id)
	if err != nil {
		return err
	}

	if stateFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	newPrinter(cmd.OutOrStdout()).summary(sum)
	return nil
}
