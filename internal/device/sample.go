package device

import (
	"sync"
	"time"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// latest holds the newest sample published by a backend reader goroutine
// together with the prediction window applied on read.
type latest struct {
	mu          sync.RWMutex
	q           orientation.Quaternion
	rate        orientation.Rate
	have        bool
	period      float32
	predict     bool
	firstSample chan struct{}
	firstOnce   sync.Once
}

func newLatest() *latest {
	return &latest{q: orientation.Identity, firstSample: make(chan struct{})}
}

func (l *latest) store(q orientation.Quaternion, rate orientation.Rate) {
	l.mu.Lock()
	l.q = q
	l.rate = rate
	l.have = true
	l.mu.Unlock()
	l.firstOnce.Do(func() { close(l.firstSample) })
}

func (l *latest) setPrediction(periodSeconds float32, enabled bool) {
	l.mu.Lock()
	l.period = periodSeconds
	l.predict = enabled
	l.mu.Unlock()
}

func (l *latest) prediction() (float32, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.period, l.predict
}

// orientation returns the stored sample, extrapolated by the prediction
// window when prediction is enabled.
func (l *latest) orientation() orientation.Quaternion {
	l.mu.RLock()
	q, rate, period, predict := l.q, l.rate, l.period, l.predict
	l.mu.RUnlock()

	if !predict || period <= 0 {
		return q
	}
	return orientation.Predict(q, rate, float64(period))
}

// waitFirst reports whether a sample arrived within timeout.
func (l *latest) waitFirst(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.firstSample:
		return true
	case <-timer.C:
		return false
	}
}
