// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/config"
	"github.com/relabs-tech/bokobox/internal/history"
	"github.com/relabs-tech/bokobox/internal/localize"
	"github.com/relabs-tech/bokobox/internal/logging"
	"github.com/relabs-tech/bokobox/internal/metrics"
	"github.com/relabs-tech/bokobox/internal/serialport"
	"github.com/relabs-tech/bokobox/internal/telemetry"
)

// mockMalformedEvery makes the mock board send a bad line now and then.
const mockMalformedEvery = 50

// RunLocator runs the acquisition loop with its web and MQTT surfaces
// until ctx is cancelled or the serial line fails.
func RunLocator(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("locator: config not initialized")
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	return runLocator(ctx, cfg, log)
}

func runLocator(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("locator: metrics: %w", err)
	}

	loc, err := newLocalizer(cfg)
	if err != nil {
		return err
	}
	grid := loc.Grid()
	labels := make([]string, len(cfg.ChannelPositions))
	for i, idx := range cfg.ChannelPositions {
		labels[i] = grid[idx].Label
	}

	store := calibration.NewIniStore(cfg.CalibrationFile)
	cal := calibration.LoadOrDefault(ctx, store, cfg.CalibrationDefault, cfg.Channels, log)

	src, err := openSource(ctx, cfg, loc.Positions(), log)
	if err != nil {
		return err
	}

	loop, err := acquire.New(src, acquire.Options{
		Localizer:         loc,
		Calibration:       cal,
		Store:             store,
		WindowSize:        cfg.WindowSize,
		SamplesPerChannel: cfg.CalibrationSamples,
		History:           newHistory(cfg),
		ChannelLabels:     labels,
		Logger:            log,
		Metrics:           m,
	})
	if err != nil {
		src.Close()
		return fmt.Errorf("locator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })

	if cfg.WebServerPort > 0 {
		handler := NewWebHandler(loop, m, "web", log)
		g.Go(func() error { return serveWeb(gctx, cfg.WebServerPort, handler, log) })
	}

	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, "locator")
		if err != nil {
			log.Error(ctx, "locator: MQTT disabled", logging.Err(err))
		} else {
			defer client.Disconnect(250)
			log.Info(ctx, "locator: connected to MQTT broker", logging.String("broker", cfg.MQTTBroker))
			bridge := NewMQTTBridge(client, loop, cfg.TopicSnapshot, cfg.TopicCommand, log)
			g.Go(func() error { return bridge.Run(gctx) })
		}
	}

	return g.Wait()
}

func newLocalizer(cfg *config.Config) (*localize.Localizer, error) {
	grid := localize.DefaultGrid()
	positions, err := grid.Positions(cfg.ChannelPositions)
	if err != nil {
		return nil, fmt.Errorf("locator: channel positions: %w", err)
	}
	loc, err := localize.New(positions, grid)
	if err != nil {
		return nil, fmt.Errorf("locator: %w", err)
	}
	return loc, nil
}

func newHistory(cfg *config.Config) *history.Tracker {
	if cfg.HistoryMode == history.ByCount {
		return history.NewCapacity(cfg.HistoryCapacity)
	}
	return history.NewLifetime(cfg.HistoryLifetime())
}

func openSource(ctx context.Context, cfg *config.Config, positions []r2.Vec, log logging.Logger) (telemetry.LineSource, error) {
	if cfg.SerialPort == config.PortMock {
		log.Info(ctx, "locator: using mock sensor board", logging.Int("interval_ms", cfg.MockIntervalMS))
		return telemetry.NewMockSource(telemetry.MockOptions{
			Interval:       cfg.MockInterval(),
			Positions:      positions,
			Gains:          cfg.CalibrationDefault,
			MalformedEvery: mockMalformedEvery,
			Seed:           time.Now().UnixNano(),
		}), nil
	}

	name, src, err := serialport.OpenConfigured(ctx, cfg.SerialPort, serialport.Options{
		BaudRate:    cfg.SerialBaudRate,
		ReadTimeout: cfg.ReadTimeout(),
	}, cfg.Channels, log)
	if err != nil {
		return nil, fmt.Errorf("locator: %w", err)
	}
	log.Info(ctx, "locator: serial port open",
		logging.String("port", name), logging.Int("baud", cfg.SerialBaudRate))
	return src, nil
}
