package orientation

import "math"

// ComplementaryFilter fuses accelerometer tilt with integrated gyro rates.
// Gyro input is in deg/s. Yaw drifts; there is no magnetometer term.
type ComplementaryFilter struct {
	// Alpha weights the gyro path, 0..1.
	Alpha float64

	pose    Pose
	started bool
}

// NewComplementaryFilter returns a filter with the given gyro weight.
func NewComplementaryFilter(alpha float64) *ComplementaryFilter {
	return &ComplementaryFilter{Alpha: alpha}
}

// Update advances the filter by dt seconds and returns the new pose.
func (f *ComplementaryFilter) Update(ax, ay, az, gx, gy, gz, dt float64) Pose {
	tilt := ComputePoseFromAccel(ax, ay, az)
	if !f.started || dt <= 0 {
		f.pose = Pose{Roll: tilt.Roll, Pitch: tilt.Pitch, Yaw: f.pose.Yaw}
		f.started = true
		return f.pose
	}

	f.pose.Roll = f.Alpha*(f.pose.Roll+gx*dt) + (1-f.Alpha)*tilt.Roll
	f.pose.Pitch = f.Alpha*(f.pose.Pitch+gy*dt) + (1-f.Alpha)*tilt.Pitch
	f.pose.Yaw = math.Mod(f.pose.Yaw+gz*dt, 360)
	return f.pose
}

// Pose returns the last filtered pose.
func (f *ComplementaryFilter) Pose() Pose {
	return f.pose
}
