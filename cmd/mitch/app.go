package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/mitch/internal/control"
	"github.com/srg/mitch/internal/device"
	"github.com/srg/mitch/internal/devicefactory"
	"github.com/srg/mitch/internal/groutine"
	"github.com/srg/mitch/internal/registry"
	"github.com/srg/mitch/internal/session"
	"github.com/srg/mitch/internal/telemetry"
	"github.com/srg/mitch/pkg/config"
	"github.com/srg/mitch/scanner"
)

const closeTimeout = 5 * time.Second

// loadConfig reads --config when given and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if prefix, _ := cmd.Flags().GetString("prefix"); prefix != "" {
		cfg.NamePrefix = prefix
	}
	return cfg, nil
}

// app wires the adapter, registry, scanner and control surface of one
// command invocation.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *registry.Registry
	scanner  *scanner.Scanner
	control  *control.Control

	scanErr    chan error
	cancelScan context.CancelFunc
}

func newApp(cfg *config.Config, logger *logrus.Logger, sink telemetry.Sink) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	adapter, err := devicefactory.NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newAppWithAdapter(cfg, logger, sink, adapter), nil
}

func newAppWithAdapter(cfg *config.Config, logger *logrus.Logger, sink telemetry.Sink, adapter device.Adapter) *app {
	reg := registry.New()
	opts := session.Options{
		TransportTimeout: cfg.TransportTimeout,
		StopTimeout:      cfg.StopTimeout,
		Logger:           logger,
	}
	sc := scanner.New(adapter, reg, func(name string, p device.Peripheral) *session.Session {
		return session.New(name, p, sink, opts)
	}, scanner.Options{Prefix: cfg.NamePrefix, Logger: logger})

	return &app{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		scanner:    sc,
		control:    control.New(reg, sc, logger),
		scanErr:    make(chan error, 1),
		cancelScan: func() {},
	}
}

// start runs the scanner until ctx is done or stopScan is called. Its result
// is available from wait.
func (a *app) start(ctx context.Context) {
	ctx, a.cancelScan = context.WithCancel(ctx)
	groutine.Go(ctx, "scanner", func(ctx context.Context) {
		a.scanErr <- a.scanner.Run(ctx)
		close(a.scanErr)
	})
}

func (a *app) stopScan() {
	a.cancelScan()
}

// wait blocks until the scanner has stopped and returns its error.
func (a *app) wait() error {
	return <-a.scanErr
}

// await waits up to scan_timeout for the named device and returns its id.
func (a *app) await(ctx context.Context, name string) (int, error) {
	awaitCtx := ctx
	if a.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, a.cfg.ScanTimeout)
		defer cancel()
	}

	d, err := a.control.Await(awaitCtx, strings.ToLower(name))
	if err != nil {
		// Discoveries only close when the scanner returned.
		if awaitCtx.Err() == nil {
			if scanErr := a.wait(); scanErr != nil {
				return 0, scanErr
			}
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}

	a.logger.WithFields(logrus.Fields{
		"id":      d.ID,
		"device":  d.Name,
		"address": d.Address,
	}).Info("Device discovered")
	return d.ID, nil
}

// connect discovers the named device and connects to it.
func (a *app) connect(ctx context.Context, name string) (int, error) {
	id, err := a.await(ctx, name)
	if err != nil {
		return 0, err
	}
	a.stopScan()

	if err := a.control.Connect(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// close tears down every session. It runs on every exit path.
func (a *app) close() {
	a.stopScan()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.registry.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Warn("Session teardown failed")
	}
}
