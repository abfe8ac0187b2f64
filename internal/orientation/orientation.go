// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// Quaternion is the wire representation of orientation: a unit quaternion
// with W as the scalar part.
type Quaternion struct {
	W float32 `json:"w"`
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Identity is the zero rotation.
var Identity = Quaternion{W: 1}

// Pose is roll/pitch/yaw in degrees. The mock source and the IMU filter work
// in Euler angles and convert to a Quaternion at the edge.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Rate is an angular velocity in rad/s around the body axes.
type Rate struct {
	X, Y, Z float64
}

// Source is anything that can provide orientation samples over time.
type Source interface {
	Next() (Quaternion, Rate, error)
}

const degToRad = math.Pi / 180.0

// Quaternion converts a pose using the aerospace Z-Y-X convention
// (yaw, then pitch, then roll).
func (p Pose) Quaternion() Quaternion {
	hr := p.Roll * degToRad / 2
	hp := p.Pitch * degToRad / 2
	hy := p.Yaw * degToRad / 2

	cr, sr := math.Cos(hr), math.Sin(hr)
	cp, sp := math.Cos(hp), math.Sin(hp)
	cy, sy := math.Cos(hy), math.Sin(hy)

	return Quaternion{
		W: float32(cr*cp*cy + sr*sp*sy),
		X: float32(sr*cp*cy - cr*sp*sy),
		Y: float32(cr*sp*cy + sr*cp*sy),
		Z: float32(cr*cp*sy - sr*sp*cy),
	}
}

// Pose converts q back to roll/pitch/yaw in degrees. Pitch is clamped to
// ±90 at gimbal lock.
func (q Quaternion) Pose() Pose {
	w, x, y, z := float64(q.W), float64(q.X), float64(q.Y), float64(q.Z)

	sinp := 2 * (w*y - z*x)
	sinp = math.Max(-1, math.Min(1, sinp))

	return Pose{
		Roll:  math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)) / degToRad,
		Pitch: math.Asin(sinp) / degToRad,
		Yaw:   math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)) / degToRad,
	}
}

// Norm returns the quaternion length.
func (q Quaternion) Norm() float64 {
	w, x, y, z := float64(q.W), float64(q.X), float64(q.Y), float64(q.Z)
	return math.Sqrt(w*w + x*x + y*y + z*z)
}

// Normalize returns q scaled to unit length. A zero quaternion becomes Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity
	}
	return Quaternion{
		W: float32(float64(q.W) / n),
		X: float32(float64(q.X) / n),
		Y: float32(float64(q.Y) / n),
		Z: float32(float64(q.Z) / n),
	}
}

// Mul returns the Hamilton product q*r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Predict extrapolates q forward by dt seconds assuming the body keeps
// rotating at rate. The rate is expressed in the body frame.
func Predict(q Quaternion, rate Rate, dt float64) Quaternion {
	if dt <= 0 {
		return q
	}
	angle := math.Sqrt(rate.X*rate.X+rate.Y*rate.Y+rate.Z*rate.Z) * dt
	if angle == 0 {
		return q
	}
	axisScale := math.Sin(angle/2) / (angle / dt)
	delta := Quaternion{
		W: float32(math.Cos(angle / 2)),
		X: float32(rate.X * axisScale),
		Y: float32(rate.Y * axisScale),
		Z: float32(rate.Z * axisScale),
	}
	return q.Mul(delta).Normalize()
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is set to 0.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad / degToRad,
		Pitch: pitchRad / degToRad,
		Yaw:   0,
	}
}
