// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a mock orientation source that
// generates smooth changing values.
func NewMockSource() Source {
	return &mockSource{start: time.Now(), now: time.Now}
}

// MockPose returns the mock pose after elapsed seconds together with its
// angular rate in rad/s.
func MockPose(elapsed float64) (Pose, Rate) {
	pose := Pose{
		Roll:  20 * math.Sin(elapsed),
		Pitch: 15 * math.Cos(elapsed*0.7),
		Yaw:   math.Mod(elapsed*30, 360),
	}
	// Euler rates, close enough to body rates for small tilt.
	rate := Rate{
		X: 20 * math.Cos(elapsed) * degToRad,
		Y: -15 * 0.7 * math.Sin(elapsed*0.7) * degToRad,
		Z: 30 * degToRad,
	}
	return pose, rate
}

func (m *mockSource) Next() (Quaternion, Rate, error) {
	pose, rate := MockPose(m.now().Sub(m.start).Seconds())
	return pose.Quaternion(), rate, nil
}
