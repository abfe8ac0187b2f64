package device

import (
	"math"

	"github.com/relabs-tech/orientation_server/internal/config"
)

// Descriptor is the physical/display description of the headset.
// Distances are in metres.
type Descriptor struct {
	FOV                    float32 // vertical field of view, degrees
	HScreenSize            float32
	VScreenSize            float32
	VScreenCenter          float32
	EyeToScreenDistance    float32
	LensSeparationDistance float32
	InterpupillaryDistance float32
	HResolution            int
	VResolution            int
	DistortionK            [4]float32
	ChromaAbCorrection     [4]float32
}

// DescriptorFromConfig builds the descriptor from the HMD_* keys. The FOV is
// derived from the geometry unless configured explicitly.
func DescriptorFromConfig(cfg *config.Config) Descriptor {
	d := Descriptor{
		HScreenSize:            float32(cfg.HMDHScreenSize),
		VScreenSize:            float32(cfg.HMDVScreenSize),
		VScreenCenter:          float32(cfg.HMDVScreenCenter),
		EyeToScreenDistance:    float32(cfg.HMDEyeToScreenDistance),
		LensSeparationDistance: float32(cfg.HMDLensSeparation),
		InterpupillaryDistance: float32(cfg.HMDInterpupillaryDistance),
		HResolution:            cfg.HMDHResolution,
		VResolution:            cfg.HMDVResolution,
	}
	for i := 0; i < 4 && i < len(cfg.HMDDistortionK); i++ {
		d.DistortionK[i] = float32(cfg.HMDDistortionK[i])
	}
	for i := 0; i < 4 && i < len(cfg.HMDChromaAbCorrection); i++ {
		d.ChromaAbCorrection[i] = float32(cfg.HMDChromaAbCorrection[i])
	}

	if cfg.HMDFOV > 0 {
		d.FOV = float32(cfg.HMDFOV)
	} else {
		d.FOV = d.VerticalFOV()
	}
	return d
}

// distortion applies the radial lens polynomial to radius r.
func (d Descriptor) distortion(r float64) float64 {
	rsq := r * r
	k := d.DistortionK
	return r * (float64(k[0]) + float64(k[1])*rsq + float64(k[2])*rsq*rsq + float64(k[3])*rsq*rsq*rsq)
}

// VerticalFOV computes the perceived vertical field of view in degrees.
// The distortion is fitted to the left edge of the per-eye viewport, so the
// whole rendered image stays visible after lens correction.
func (d Descriptor) VerticalFOV() float32 {
	if d.EyeToScreenDistance <= 0 || d.HScreenSize <= 0 {
		return 0
	}

	lensOffset := float64(d.LensSeparationDistance) * 0.5
	lensShift := float64(d.HScreenSize)*0.25 - lensOffset
	viewportShift := 4 * lensShift / float64(d.HScreenSize)

	scale := 1.0
	fitRadius := math.Abs(-1 - viewportShift)
	if fitRadius > 0 {
		scale = d.distortion(fitRadius) / fitRadius
	}

	halfHeight := float64(d.VScreenSize) / 2 * scale
	return float32(2 * math.Atan(halfHeight/float64(d.EyeToScreenDistance)) * 180 / math.Pi)
}
