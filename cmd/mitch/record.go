package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/mitch/internal/devicefactory"
	"github.com/srg/mitch/internal/protocol"
	"github.com/srg/mitch/pkg/config"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record <name>",
	Short: "Record a sensor stream",
	Long: `Discover and connect to the named device, start an accelerometry or
pressure stream and write every decoded sample until interrupted or until
--duration elapses.

Samples are written as a stream header record followed by one record per
sample, encoded as json (one object per line), msgpack or cbor.

Example:
  mitch record mitch01 --kind pressure --duration 30s --output run.jsonl
  mitch record mitch01 --kind accelerometry --format cbor > run.cbor`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var (
	recordKind     string
	recordDuration time.Duration
	recordOutput   string
	recordFormat   string
)

// taskPollInterval is how often a recording is checked for ending on its own.
const taskPollInterval = 500 * time.Millisecond

func init() {
	recordCmd.Flags().StringVarP(&recordKind, "kind", "k", "", "Stream kind (accelerometry, pressure)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Recording duration (0 until interrupted)")
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Output file (default stdout)")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "", "Sample encoding (json, msgpack, cbor)")
	_ = recordCmd.MarkFlagRequired("kind")
}

func runRecord(cmd *cobra.Command, args []string) error {
	kind, err := protocol.ParseKind(recordKind)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Sink.Kind = config.SinkWriter
	if recordFormat != "" {
		cfg.Sink.Format = recordFormat
	}
	if recordOutput != "" {
		cfg.Sink.Path = recordOutput
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	out, closeOut, err := openOutput(cmd, cfg.Sink.Path)
	if err != nil {
		return err
	}
	defer closeOut()

	sink, err := devicefactory.NewSink(cfg, out, logger)
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

	return record(ctx, a, id, kind, recordDuration, newPrinter(cmd.ErrOrStderr()))
}

// record runs one recording on session id until ctx is done, duration
// elapses or the recording task ends on its own.
func record(ctx context.Context, a *app, id int, kind protocol.Kind, duration time.Duration, p *printer) error {
	if err := a.control.StartRecording(ctx, id, kind); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{"id": id, "kind": kind.String()}).Info("Recording...")

	ended := waitRecording(ctx, a, id, duration)

	// ctx may already be cancelled by Ctrl+C; stopping needs a live one.
	stopCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	stopErr := a.control.StopRecording(stopCtx, id)

	sum, err := a.control.GetSession(id)
	if err == nil {
		p.summary(sum)
	}

	if ended {
		if sum.LastError != "" {
			return fmt.Errorf("%w: %s", ErrTaskEnded, sum.LastError)
		}
		return ErrTaskEnded
	}
	if stopErr != nil && !errors.Is(stopErr, context.Canceled) {
		return stopErr
	}
	return nil
}

// waitRecording reports true if the task ended before it was asked to stop.
func waitRecording(ctx context.Context, a *app, id int, duration time.Duration) bool {
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-ticker.C:
			sum, err := a.control.GetSession(id)
			if err != nil || sum.Recording == nil {
				return true
			}
		}
	}
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
