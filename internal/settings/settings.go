// Package settings holds the runtime-mutable broadcast and prediction
// parameters and parses the form bodies that change them.
package settings

import (
	"math"
	"time"
)

// RuntimeConfig is a snapshot of the mutable parameters.
type RuntimeConfig struct {
	BroadcastInterval time.Duration
	PredictionPeriod  float32 // seconds
	PredictionEnabled bool
}

// Field names a mutable parameter.
type Field string

const (
	FieldInterval   Field = "interval"
	FieldPrediction Field = "prediction"
)

// Store holds the RuntimeConfig. It is not safe for concurrent use: the
// event loop is its only caller.
type Store struct {
	cfg RuntimeConfig
}

// NewStore returns a store seeded with cfg.
func NewStore(cfg RuntimeConfig) *Store {
	return &Store{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() RuntimeConfig {
	return s.cfg
}

// Set applies value to field and reports whether it was accepted.
//
// Interval is in milliseconds and must be a positive whole number.
// Prediction is in milliseconds and must be finite and not negative;
// zero disables prediction. Rejected values leave the store unchanged.
func (s *Store) Set(field Field, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}

	switch field {
	case FieldInterval:
		if value <= 0 || value != math.Trunc(value) || value > math.MaxInt32 {
			return false
		}
		s.cfg.BroadcastInterval = time.Duration(value) * time.Millisecond
		return true
	case FieldPrediction:
		if value < 0 {
			return false
		}
		s.cfg.PredictionPeriod = float32(value / 1000)
		s.cfg.PredictionEnabled = value != 0
		return true
	default:
		return false
	}
}
