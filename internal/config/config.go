// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// maxServerNameLen matches the header budget of the frame encoder.
const maxServerNameLen = 256

// Config holds all application configuration values.
//
// Values are resolved in order: Default(), the KEY=VALUE config file,
// a .env file, then the process environment. The env tags use the same
// names as the file keys.
type Config struct {
	// Server
	Port                int     `env:"PORT"`
	ServerName          string  `env:"SERVER_NAME"`
	BroadcastIntervalMS int     `env:"BROADCAST_INTERVAL"` // milliseconds
	PredictionMS        float64 `env:"PREDICTION_MS"`      // 0 disables prediction
	WriteTimeoutMS      int     `env:"WRITE_TIMEOUT_MS"`
	MetricsAddr         string  `env:"METRICS_ADDR"` // empty disables the metrics listener

	// Device selection: mock, mqtt, serial, imu
	Device       string `env:"DEVICE"`
	DeviceWaitMS int    `env:"DEVICE_WAIT_MS"` // how long to wait for the first sample

	// MQTT
	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID"`
	TopicPose       string `env:"TOPIC_POSE"`
	TopicPrediction string `env:"TOPIC_PREDICTION"`

	// Serial (Xsens NMEA)
	SerialPort     string `env:"SERIAL_PORT"`
	SerialBaudRate int    `env:"SERIAL_BAUD_RATE"`

	// IMU Hardware
	IMUSPIDevice      string  `env:"IMU_SPI_DEVICE"`
	IMUCSPin          string  `env:"IMU_CS_PIN"`
	IMUSampleInterval int     `env:"IMU_SAMPLE_INTERVAL"` // milliseconds
	IMUFilterAlpha    float64 `env:"IMU_FILTER_ALPHA"`

	// Head-mounted display geometry, served by /device.
	// HMDFOV of 0 means derive it from the geometry below.
	HMDFOV                    float64   `env:"HMD_FOV"`
	HMDHScreenSize            float64   `env:"HMD_H_SCREEN_SIZE"`
	HMDVScreenSize            float64   `env:"HMD_V_SCREEN_SIZE"`
	HMDVScreenCenter          float64   `env:"HMD_V_SCREEN_CENTER"`
	HMDEyeToScreenDistance    float64   `env:"HMD_EYE_TO_SCREEN_DISTANCE"`
	HMDLensSeparation         float64   `env:"HMD_LENS_SEPARATION_DISTANCE"`
	HMDInterpupillaryDistance float64   `env:"HMD_INTERPUPILLARY_DISTANCE"`
	HMDHResolution            int       `env:"HMD_H_RESOLUTION"`
	HMDVResolution            int       `env:"HMD_V_RESOLUTION"`
	HMDDistortionK            []float64 `env:"HMD_DISTORTION_K"`
	HMDChromaAbCorrection     []float64 `env:"HMD_CHROMA_AB_CORRECTION"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

// Default returns the configuration used when nothing else is supplied.
// Display values are those of the Oculus Rift DK1.
func Default() *Config {
	return &Config{
		Port:                9006,
		ServerName:          "orientation_server",
		BroadcastIntervalMS: 2,
		PredictionMS:        40,
		WriteTimeoutMS:      50,

		Device:       "mock",
		DeviceWaitMS: 2000,

		MQTTBroker:      "tcp://localhost:1883",
		MQTTClientID:    "orientation-server",
		TopicPose:       "orientation/pose",
		TopicPrediction: "orientation/prediction",

		SerialPort:     "/dev/ttyUSB0",
		SerialBaudRate: 115200,

		IMUSPIDevice:      "/dev/spidev0.0",
		IMUCSPin:          "8",
		IMUSampleInterval: 5,
		IMUFilterAlpha:    0.98,

		HMDHScreenSize:            0.14976,
		HMDVScreenSize:            0.0936,
		HMDVScreenCenter:          0.0468,
		HMDEyeToScreenDistance:    0.041,
		HMDLensSeparation:         0.0635,
		HMDInterpupillaryDistance: 0.064,
		HMDHResolution:            1280,
		HMDVResolution:            800,
		HMDDistortionK:            []float64{1, 0.22, 0.24, 0},
		HMDChromaAbCorrection:     []float64{0.996, -0.004, 1.014, 0},

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds the configuration. An empty configPath skips the file step.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	if err := env.Load(cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(configPath string) error {
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	slog.Debug("config: loaded file", "path", configPath, "lines", lineNum)
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Server
	case "PORT":
		c.Port, err = parseInt(key, value)
	case "SERVER_NAME":
		c.ServerName = value
	case "BROADCAST_INTERVAL":
		c.BroadcastIntervalMS, err = parseInt(key, value)
	case "PREDICTION_MS":
		c.PredictionMS, err = parseFloat(key, value)
	case "WRITE_TIMEOUT_MS":
		c.WriteTimeoutMS, err = parseInt(key, value)
	case "METRICS_ADDR":
		c.MetricsAddr = value

	// Device
	case "DEVICE":
		c.Device = value
	case "DEVICE_WAIT_MS":
		c.DeviceWaitMS, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_PREDICTION":
		c.TopicPrediction = value

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		c.SerialBaudRate, err = parseInt(key, value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)
	case "IMU_FILTER_ALPHA":
		c.IMUFilterAlpha, err = parseFloat(key, value)

	// HMD
	case "HMD_FOV":
		c.HMDFOV, err = parseFloat(key, value)
	case "HMD_H_SCREEN_SIZE":
		c.HMDHScreenSize, err = parseFloat(key, value)
	case "HMD_V_SCREEN_SIZE":
		c.HMDVScreenSize, err = parseFloat(key, value)
	case "HMD_V_SCREEN_CENTER":
		c.HMDVScreenCenter, err = parseFloat(key, value)
	case "HMD_EYE_TO_SCREEN_DISTANCE":
		c.HMDEyeToScreenDistance, err = parseFloat(key, value)
	case "HMD_LENS_SEPARATION_DISTANCE":
		c.HMDLensSeparation, err = parseFloat(key, value)
	case "HMD_INTERPUPILLARY_DISTANCE":
		c.HMDInterpupillaryDistance, err = parseFloat(key, value)
	case "HMD_H_RESOLUTION":
		c.HMDHResolution, err = parseInt(key, value)
	case "HMD_V_RESOLUTION":
		c.HMDVResolution, err = parseInt(key, value)
	case "HMD_DISTORTION_K":
		c.HMDDistortionK, err = parseFloatList(key, value)
	case "HMD_CHROMA_AB_CORRECTION":
		c.HMDChromaAbCorrection, err = parseFloatList(key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks ranges that would otherwise fail later at runtime.
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if err := validateServerName(c.ServerName); err != nil {
		return err
	}
	if c.BroadcastIntervalMS <= 0 {
		return fmt.Errorf("BROADCAST_INTERVAL must be positive, got %d", c.BroadcastIntervalMS)
	}
	if c.PredictionMS < 0 {
		return fmt.Errorf("PREDICTION_MS must not be negative, got %g", c.PredictionMS)
	}
	if c.WriteTimeoutMS <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT_MS must be positive, got %d", c.WriteTimeoutMS)
	}
	switch c.Device {
	case "mock", "mqtt", "serial", "imu":
	default:
		return fmt.Errorf("DEVICE must be one of mock, mqtt, serial, imu, got %q", c.Device)
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive, got %d", c.IMUSampleInterval)
	}
	if c.IMUFilterAlpha < 0 || c.IMUFilterAlpha > 1 {
		return fmt.Errorf("IMU_FILTER_ALPHA must be 0-1, got %g", c.IMUFilterAlpha)
	}
	if len(c.HMDDistortionK) != 4 {
		return fmt.Errorf("HMD_DISTORTION_K needs 4 values, got %d", len(c.HMDDistortionK))
	}
	if len(c.HMDChromaAbCorrection) != 4 {
		return fmt.Errorf("HMD_CHROMA_AB_CORRECTION needs 4 values, got %d", len(c.HMDChromaAbCorrection))
	}
	return nil
}

// validateServerName keeps SERVER_NAME safe to copy into a response header.
func validateServerName(name string) error {
	if name == "" || len(name) > maxServerNameLen {
		return fmt.Errorf("SERVER_NAME must be 1-%d bytes, got %d", maxServerNameLen, len(name))
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return fmt.Errorf("SERVER_NAME must be printable ASCII, got byte 0x%02x at %d", name[i], i)
		}
	}
	return nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloatList(key, value string) ([]float64, error) {
	fields := strings.Split(value, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := parseFloat(key, strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
