// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/config"
)

// RunConsoleMQTT prints every snapshot published by the locator.
func RunConsoleMQTT(ctx context.Context, out io.Writer) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("console: config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("console: MQTT_BROKER is not set")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, "console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicSnapshot, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s acquire.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: snapshot unmarshal error: %v", err)
			return
		}
		for _, line := range formatSnapshot(&s, time.Now()) {
			fmt.Fprintln(out, line)
		}
	})
	if err := waitToken(token); err != nil {
		return fmt.Errorf("console: subscribe %s: %w", cfg.TopicSnapshot, err)
	}
	log.Printf("console: subscribed to %s", cfg.TopicSnapshot)

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}

// staleAfter is how long without frames before the console blanks.
const staleAfter = 3 * time.Second

// formatSnapshot renders a snapshot as console lines.
func formatSnapshot(s *acquire.Snapshot, now time.Time) []string {
	var lines []string
	if s.Mode == acquire.Calibrating && s.Progress != nil {
		p := s.Progress
		lines = append(lines, fmt.Sprintf("[CAL ]  channel %d/%d  sample %d/%d",
			p.Channel+1, p.Channels, p.Sample, p.SamplesPerChannel))
		return lines
	}
	if s.Stale(now, staleAfter) {
		if s.LastFrame.IsZero() {
			return append(lines, "[IDLE]  waiting for frames")
		}
		return append(lines, fmt.Sprintf("[IDLE]  no frames for %s", now.Sub(s.LastFrame).Round(time.Second)))
	}
	if len(s.Stats) > 0 {
		parts := make([]string, len(s.Stats))
		for i, st := range s.Stats {
			parts[i] = fmt.Sprintf("%.6f ± %.6f", st.Mean, st.StdDev)
		}
		lines = append(lines, "[STAT]  "+strings.Join(parts, "     "))
	}
	if e := s.Estimate; e != nil {
		lines = append(lines, fmt.Sprintf("[HIT ]  x=%6.3f y=%6.3f  nearest=%s",
			e.Centroid.X, e.Centroid.Y, e.Nearest))
	}
	if s.HistoryMean != nil && s.HistoryStd != nil {
		lines = append(lines, fmt.Sprintf("[HIST]  x=%.3f ± %.3f  y=%.3f ± %.3f  n=%d",
			s.HistoryMean.X, s.HistoryStd.X, s.HistoryMean.Y, s.HistoryStd.Y, len(s.History)))
	}
	return lines
}
