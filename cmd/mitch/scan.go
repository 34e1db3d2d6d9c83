package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitch/internal/devicefactory"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover mitch devices",
	Long: `Scan for mitch devices and print each one as it is discovered.

Devices are matched by their advertised name prefix (--prefix) and numbered
in discovery order. The numbers are stable for the lifetime of the scan.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
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

	ctx, cancel := signalContext(cmd.Context(), scanDuration)
	defer cancel()

	found := collectDiscoveries(ctx, a, newPrinter(cmd.OutOrStdout()))
	if err := a.wait(); err != nil {
		return err
	}
	if found == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No devices discovered")
	}
	return nil
}

// collectDiscoveries runs the scanner and prints discoveries until it stops.
func collectDiscoveries(ctx context.Context, a *app, p *printer) int {
	a.start(ctx)

	found := 0
	for d := range a.control.Discoveries() {
		p.discovery(d)
		found++
	}
	return found
}

// signalContext is cancelled on Ctrl+C, SIGTERM or after timeout (0 = never).
func signalContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
