// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// Gyro sensitivity at the power-on ±250°/s range.
const gyroLSBPerDegS = 131.0

// IMUOptions configures the SPI MPU9250 backend.
type IMUOptions struct {
	SPIDevice      string
	CSPin          string
	SampleInterval time.Duration
	FilterAlpha    float64
	Wait           time.Duration
}

// IMU fuses an MPU9250 with a complementary filter in a sampling goroutine.
type IMU struct {
	imu    *mpu9250.MPU9250
	desc   Descriptor
	sample *latest
	filter *orientation.ComplementaryFilter
	stop   chan struct{}
	done   chan struct{}
}

// OpenIMU initializes the MPU9250 over SPI and starts sampling.
func OpenIMU(opts IMUOptions, desc Descriptor) (*IMU, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: periph host init: %v", ErrNoDevice, err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("%w: CS pin %q not found", ErrNoDevice, opts.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("%w: SPI transport (%s): %v", ErrNoDevice, opts.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("%w: device creation: %v", ErrNoSensor, err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%w: initialization: %v", ErrNoSensor, err)
	}

	if err := dev.Calibrate(); err != nil {
		slog.Warn("imu device: calibration failed", "error", err)
	} else {
		slog.Info("imu device: calibration complete")
	}

	d := &IMU{
		imu:    dev,
		desc:   desc,
		sample: newLatest(),
		filter: orientation.NewComplementaryFilter(opts.FilterAlpha),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.sampleLoop(opts.SampleInterval)

	if !d.sample.waitFirst(opts.Wait) {
		d.Close()
		return nil, fmt.Errorf("%w: no sample from %s", ErrNoSensor, opts.SPIDevice)
	}
	return d, nil
}

func (d *IMU) sampleLoop(interval time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-d.stop:
			return
		case t := <-ticker.C:
			var dt float64
			if !last.IsZero() {
				dt = t.Sub(last).Seconds()
			}
			last = t

			if err := d.step(dt); err != nil {
				slog.Warn("imu device: read error", "error", err)
			}
		}
	}
}

func (d *IMU) step(dt float64) error {
	ax, err := d.imu.GetAccelerationX()
	if err != nil {
		return fmt.Errorf("accel X: %w", err)
	}
	ay, err := d.imu.GetAccelerationY()
	if err != nil {
		return fmt.Errorf("accel Y: %w", err)
	}
	az, err := d.imu.GetAccelerationZ()
	if err != nil {
		return fmt.Errorf("accel Z: %w", err)
	}
	gx, err := d.imu.GetRotationX()
	if err != nil {
		return fmt.Errorf("gyro X: %w", err)
	}
	gy, err := d.imu.GetRotationY()
	if err != nil {
		return fmt.Errorf("gyro Y: %w", err)
	}
	gz, err := d.imu.GetRotationZ()
	if err != nil {
		return fmt.Errorf("gyro Z: %w", err)
	}

	gxd := float64(gx) / gyroLSBPerDegS
	gyd := float64(gy) / gyroLSBPerDegS
	gzd := float64(gz) / gyroLSBPerDegS

	pose := d.filter.Update(float64(ax), float64(ay), float64(az), gxd, gyd, gzd, dt)
	rate := orientation.Rate{
		X: gxd * math.Pi / 180,
		Y: gyd * math.Pi / 180,
		Z: gzd * math.Pi / 180,
	}
	d.sample.store(pose.Quaternion(), rate)
	return nil
}

func (d *IMU) Orientation() orientation.Quaternion {
	return d.sample.orientation()
}

func (d *IMU) SetPrediction(periodSeconds float32, enabled bool) {
	d.sample.setPrediction(periodSeconds, enabled)
}

func (d *IMU) Descriptor() Descriptor {
	return d.desc
}

func (d *IMU) Close() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
	return nil
}
