// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/history"
	"github.com/relabs-tech/bokobox/internal/localize"
	"github.com/relabs-tech/bokobox/internal/logging"
)

// DefaultPath is where the binaries look for the configuration file.
const DefaultPath = "bokobox_config.txt"

// Special SERIAL_PORT values.
const (
	PortAuto = "auto"
	PortMock = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// Serial
	SerialPort          string
	SerialBaudRate      int
	SerialReadTimeoutMS int

	// Sensor array
	Channels         int
	ChannelPositions []int // reference-grid indices, one per channel
	WindowSize       int

	// Calibration
	CalibrationSamples int
	CalibrationFile    string
	CalibrationDefault calibration.Vector

	// History
	HistoryMode       history.Policy
	HistoryLifetimeMS int
	HistoryCapacity   int

	// MQTT
	MQTTBroker    string
	MQTTClientID  string
	TopicSnapshot string
	TopicCommand  string

	// Web Server
	WebServerPort int

	// Mock device
	MockIntervalMS int

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when no file overrides a key.
func Default() *Config {
	return &Config{
		SerialPort:          PortAuto,
		SerialBaudRate:      115200,
		SerialReadTimeoutMS: 100,

		Channels:         4,
		ChannelPositions: localize.DefaultChannelIndices(),
		WindowSize:       10,

		CalibrationSamples: 5,
		CalibrationFile:    "config.ini",
		CalibrationDefault: calibration.DefaultVector(),

		HistoryMode:       history.ByLifetime,
		HistoryLifetimeMS: 3000,
		HistoryCapacity:   10,

		TopicSnapshot: "bokobox/snapshot",
		TopicCommand:  "bokobox/command",

		WebServerPort:  8080,
		MockIntervalMS: 100,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the configuration file on top of Default.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func atoiMin(key, value string, min int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < min {
		return 0, fmt.Errorf("%s must be >= %d, got %d", key, min, n)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial
	case "SERIAL_PORT":
		if value == "" {
			return fmt.Errorf("SERIAL_PORT must not be empty")
		}
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = atoiMin(key, value, 1)
	case "SERIAL_READ_TIMEOUT_MS":
		var ms int
		if ms, err = atoiMin(key, value, 100); err != nil {
			return err
		}
		// The port driver counts in tenths of a second.
		if ms%100 != 0 {
			return fmt.Errorf("SERIAL_READ_TIMEOUT_MS must be a multiple of 100, got %d", ms)
		}
		c.SerialReadTimeoutMS = ms

	// Sensor array
	case "CHANNELS":
		c.Channels, err = atoiMin(key, value, 1)
	case "CHANNEL_POSITIONS":
		positions := []int{}
		for _, p := range strings.Split(value, ",") {
			idx, perr := atoiMin(key, strings.TrimSpace(p), 0)
			if perr != nil {
				return perr
			}
			positions = append(positions, idx)
		}
		c.ChannelPositions = positions
	case "WINDOW_SIZE":
		c.WindowSize, err = atoiMin(key, value, 1)

	// Calibration
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = atoiMin(key, value, 1)
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "CALIBRATION_DEFAULT":
		v, perr := calibration.ParseVector(value)
		if perr != nil {
			return fmt.Errorf("invalid CALIBRATION_DEFAULT %q: %w", value, perr)
		}
		c.CalibrationDefault = v

	// History
	case "HISTORY_MODE":
		c.HistoryMode, err = history.ParsePolicy(value)
	case "HISTORY_LIFETIME_MS":
		c.HistoryLifetimeMS, err = atoiMin(key, value, 1)
	case "HISTORY_CAPACITY":
		c.HistoryCapacity, err = atoiMin(key, value, 1)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_SNAPSHOT":
		c.TopicSnapshot = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := atoiMin(key, value, 0)
		if perr != nil {
			return perr
		}
		if port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", port)
		}
		c.WebServerPort = port

	// Mock device
	case "MOCK_INTERVAL_MS":
		c.MockIntervalMS, err = atoiMin(key, value, 1)

	// Logging
	case "LOG_LEVEL":
		if _, perr := logging.ParseLevel(value); perr != nil {
			return fmt.Errorf("LOG_LEVEL: %w", perr)
		}
		c.LogLevel = value
	case "LOG_FORMAT":
		if c.LogFormat, err = logging.ParseFormat(value); err != nil {
			return fmt.Errorf("LOG_FORMAT: %w", err)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks cross-key consistency.
func (c *Config) validate() error {
	if len(c.ChannelPositions) != c.Channels {
		return fmt.Errorf("CHANNEL_POSITIONS has %d entries, CHANNELS is %d", len(c.ChannelPositions), c.Channels)
	}
	if err := c.CalibrationDefault.Validate(c.Channels); err != nil {
		return fmt.Errorf("CALIBRATION_DEFAULT: %w", err)
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	if c.MQTTBroker != "" && (c.TopicSnapshot == "" || c.TopicCommand == "") {
		return fmt.Errorf("TOPIC_SNAPSHOT and TOPIC_COMMAND are required when MQTT_BROKER is set")
	}
	return nil
}

// ReadTimeout is the bounded wait of one serial read.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.SerialReadTimeoutMS) * time.Millisecond
}

// HistoryLifetime is how long a centroid stays in the history.
func (c *Config) HistoryLifetime() time.Duration {
	return time.Duration(c.HistoryLifetimeMS) * time.Millisecond
}

// MockInterval is the frame period of the mock device.
func (c *Config) MockInterval() time.Duration {
	return time.Duration(c.MockIntervalMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// InitGlobalDefault installs Default as the global configuration unless one
// has already been loaded. It is the fallback after a failed InitGlobal.
func InitGlobalDefault() {
	configOnce.Do(func() {})
	configMu.Lock()
	defer configMu.Unlock()
	if globalConfig == nil {
		globalConfig = Default()
	}
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
