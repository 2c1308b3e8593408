// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/logging"
)

const mqttTimeout = 5 * time.Second

// mqttClient is the subset of mqtt.Client the bridges use.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// connectMQTT connects to broker. An empty clientID gets a random one so
// several binaries can share a broker.
func connectMQTT(broker, clientID, role string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "bokobox-" + uuid.NewString()
	}
	clientID += "-" + role

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", broker, token.Error())
	}
	return client, nil
}

func waitToken(t mqtt.Token) error {
	if !t.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("mqtt: timed out after %v", mqttTimeout)
	}
	return t.Error()
}

// decodeCommand accepts a bare command ("calibrate", "g") or a JSON object
// with an "action" or "mode" field.
func decodeCommand(payload []byte) (acquire.Command, error) {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Action string `json:"action"`
			Mode   string `json:"mode"`
		}
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return 0, fmt.Errorf("mqtt: command payload: %w", err)
		}
		text = msg.Action
		if text == "" {
			text = msg.Mode
		}
	}
	return acquire.ParseCommand(text)
}

// MQTTBridge publishes every snapshot as retained JSON and turns messages
// on the command topic into mode commands.
type MQTTBridge struct {
	client        mqttClient
	ctl           Controller
	snapshotTopic string
	commandTopic  string
	log           logging.Logger
}

// NewMQTTBridge wires ctl to client.
func NewMQTTBridge(client mqttClient, ctl Controller, snapshotTopic, commandTopic string, log logging.Logger) *MQTTBridge {
	if log == nil {
		log = logging.Noop()
	}
	return &MQTTBridge{
		client:        client,
		ctl:           ctl,
		snapshotTopic: snapshotTopic,
		commandTopic:  commandTopic,
		log:           log.With(logging.Component("mqtt")),
	}
}

// Run publishes until ctx is cancelled or the loop stops publishing.
func (b *MQTTBridge) Run(ctx context.Context) error {
	updates, cancel := b.ctl.Subscribe(16)
	defer cancel()

	if err := waitToken(b.client.Subscribe(b.commandTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleCommand(ctx, msg.Payload())
	})); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", b.commandTopic, err)
	}
	defer b.client.Unsubscribe(b.commandTopic)
	b.log.Info(ctx, "mqtt: bridge running",
		logging.String("snapshots", b.snapshotTopic), logging.String("commands", b.commandTopic))

	if snap := b.ctl.Latest(); snap != nil {
		b.publish(ctx, snap)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			b.publish(ctx, snap)
		}
	}
}

func (b *MQTTBridge) publish(ctx context.Context, snap *acquire.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		b.log.Error(ctx, "mqtt: json marshal error", logging.Err(err))
		return
	}
	if err := waitToken(b.client.Publish(b.snapshotTopic, 0, true, payload)); err != nil {
		b.log.Warn(ctx, "mqtt: publish failed", logging.Err(err))
	}
}

func (b *MQTTBridge) handleCommand(ctx context.Context, payload []byte) {
	cmd, err := decodeCommand(payload)
	if err != nil {
		b.log.Warn(ctx, "mqtt: ignoring command", logging.String("payload", string(payload)), logging.Err(err))
		return
	}
	changed := b.ctl.Apply(ctx, cmd)
	b.log.Info(ctx, "mqtt: mode command",
		logging.String("command", cmd.String()), logging.Any("changed", changed))
}
