// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package device is the narrow facade between the server and the physical
// orientation sensor. Backends own their I/O goroutines and expose the most
// recent sample, so reads never wait on the hardware.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/orientation_server/internal/config"
	"github.com/relabs-tech/orientation_server/internal/orientation"
)

var (
	// ErrNoDevice means nothing answered on the configured transport.
	ErrNoDevice = errors.New("device not connected")
	// ErrNoSensor means the device is present but produced no orientation.
	ErrNoSensor = errors.New("no orientation sensor on device")
)

// Device is the orientation facade used by the server.
type Device interface {
	// Orientation returns the latest, possibly predicted, orientation.
	Orientation() orientation.Quaternion
	// SetPrediction changes the prediction window for subsequent reads.
	// Failures are logged by the backend.
	SetPrediction(periodSeconds float32, enabled bool)
	// Descriptor returns the display parameters of the headset.
	Descriptor() Descriptor
	Close() error
}

// Open creates the backend selected by cfg.Device.
func Open(cfg *config.Config) (Device, error) {
	desc := DescriptorFromConfig(cfg)
	wait := time.Duration(cfg.DeviceWaitMS) * time.Millisecond

	switch cfg.Device {
	case "mock":
		return NewMock(orientation.NewMockSource(), desc), nil
	case "mqtt":
		return OpenMQTT(MQTTOptions{
			Broker:          cfg.MQTTBroker,
			ClientID:        cfg.MQTTClientID,
			TopicPose:       cfg.TopicPose,
			TopicPrediction: cfg.TopicPrediction,
			Wait:            wait,
		}, desc)
	case "serial":
		return OpenSerial(cfg.SerialPort, cfg.SerialBaudRate, wait, desc)
	case "imu":
		return OpenIMU(IMUOptions{
			SPIDevice:      cfg.IMUSPIDevice,
			CSPin:          cfg.IMUCSPin,
			SampleInterval: time.Duration(cfg.IMUSampleInterval) * time.Millisecond,
			FilterAlpha:    cfg.IMUFilterAlpha,
			Wait:           wait,
		}, desc)
	default:
		return nil, fmt.Errorf("unknown device backend %q", cfg.Device)
	}
}
