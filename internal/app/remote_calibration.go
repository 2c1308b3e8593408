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

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/config"
)

// RunRemoteCalibration starts a calibration cycle on the locator over MQTT
// and prints prompts until the locator is back in acquisition. Cancelling
// ctx abandons the cycle.
func RunRemoteCalibration(ctx context.Context, out io.Writer) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("calibrate: config not initialized")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("calibrate: MQTT_BROKER is not set")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, "calibrate")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("calibrate: connected to MQTT broker at %s", cfg.MQTTBroker)

	return remoteCalibration(ctx, client, cfg.TopicSnapshot, cfg.TopicCommand, out)
}

func remoteCalibration(ctx context.Context, client mqttClient, snapshotTopic, commandTopic string, out io.Writer) error {
	updates := make(chan *acquire.Snapshot, 32)
	token := client.Subscribe(snapshotTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s acquire.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("calibrate: snapshot unmarshal error: %v", err)
			return
		}
		select {
		case updates <- &s:
		default:
		}
	})
	if err := waitToken(token); err != nil {
		return fmt.Errorf("calibrate: subscribe %s: %w", snapshotTopic, err)
	}
	defer client.Unsubscribe(snapshotTopic)

	if err := waitToken(client.Publish(commandTopic, 1, false, acquire.CommandCalibrate.String())); err != nil {
		return fmt.Errorf("calibrate: send command: %w", err)
	}
	fmt.Fprintln(out, "calibration requested, waiting for the locator...")

	var f calibrationFollower
	for {
		select {
		case <-ctx.Done():
			if err := waitToken(client.Publish(commandTopic, 1, false, acquire.CommandAcquire.String())); err != nil {
				log.Printf("calibrate: cancel command failed: %v", err)
			}
			fmt.Fprintln(out, "calibration abandoned")
			return ctx.Err()
		case s := <-updates:
			msg, done := f.observe(s)
			if msg != "" {
				fmt.Fprintln(out, msg)
			}
			if done {
				return nil
			}
		}
	}
}

// calibrationFollower turns the snapshot stream into user prompts.
type calibrationFollower struct {
	before      calibration.Vector
	calibrating bool
	last        calibration.Progress
}

func (f *calibrationFollower) observe(s *acquire.Snapshot) (string, bool) {
	if f.before == nil {
		f.before = s.Calibration.Clone()
	}
	if s.Mode == acquire.Calibrating {
		if s.Progress == nil {
			return "", false
		}
		p := *s.Progress
		first := !f.calibrating
		f.calibrating = true
		if !first && p == f.last {
			return "", false
		}
		f.last = p
		if first || p.Sample == 0 {
			return fmt.Sprintf("tap channel %d of %d, %d times (%d/%d samples)",
				p.Channel+1, p.Channels, p.SamplesPerChannel, p.Done(), p.Total()), false
		}
		return fmt.Sprintf("  channel %d: %d/%d", p.Channel+1, p.Sample, p.SamplesPerChannel), false
	}

	if !f.calibrating {
		return "", false
	}
	if s.Calibration.String() == f.before.String() {
		return fmt.Sprintf("calibration ended without new factors, keeping %s", s.Calibration), true
	}
	return fmt.Sprintf("calibration complete: factors %s", s.Calibration), true
}
