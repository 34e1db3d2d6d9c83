package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/mitch/internal/devicefactory"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/internal/telemetry"
	"github.com/srg/mitch/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <name>",
	Short: "Show live sample rates of a sensor stream",
	Long: `Connect to the named device, start a stream and print the sample rate,
the running total and the latest sample once per --interval.

Example:
  mitch monitor mitch01 --kind accelerometry`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorKind     string
	monitorDuration time.Duration
	monitorInterval time.Duration
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorKind, "kind", "k", "", "Stream kind (accelerometry, pressure)")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Monitor duration (0 until interrupted)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Report interval")
	_ = monitorCmd.MarkFlagRequired("kind")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	kind, err := protocol.ParseKind(monitorKind)
	if err != nil {
		return err
	}
	if monitorInterval <= 0 {
		monitorInterval = time.Second
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Sink.Kind = config.SinkHub

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	sink, err := devicefactory.NewSink(cfg, nil, logger)
	if err != nil {
		return err
	}
	hub := sink.(*telemetry.Hub)
	defer hub.Shutdown()

	a, err := newApp(cfg, logger, hub)
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

	// Streams are named after the device; subscribe before samples flow.
	stream := strings.ToLower(args[0])
	samples, unsubscribe := hub.Subscribe(stream)
	defer unsubscribe()

	if err := a.control.StartRecording(ctx, id, kind); err != nil {
		return err
	}

	watchCtx := ctx
	if monitorDuration > 0 {
		var stop context.CancelFunc
		watchCtx, stop = context.WithTimeout(ctx, monitorDuration)
		defer stop()
	}
	ended := monitor(watchCtx, samples, stream, monitorInterval, newPrinter(cmd.OutOrStdout()))

	stopCtx, stop := context.WithTimeout(context.Background(), closeTimeout)
	defer stop()
	if err := a.control.StopRecording(stopCtx, id); err != nil && !ended {
		return err
	}
	if ended {
		return ErrTaskEnded
	}
	return nil
}

// monitor prints one rate line per interval until ctx is done or the stream
// closes. It reports true when the stream closed first.
func monitor(ctx context.Context, samples <-chan telemetry.Sample, stream string, interval time.Duration, p *printer) bool {
	start := time.Now()
	meter := newRateMeter(stream, start)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-samples:
			if !ok {
				return true
			}
			meter.add(s.Values)
		case now := <-ticker.C:
			p.rate(now.Sub(start), meter.report(now))
		}
	}
}
