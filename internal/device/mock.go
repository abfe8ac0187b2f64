package device

import (
	"log/slog"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// Mock is an in-process device driven by an orientation.Source.
type Mock struct {
	src    orientation.Source
	desc   Descriptor
	sample *latest
}

// NewMock wraps src. Every Orientation call pulls a fresh sample.
func NewMock(src orientation.Source, desc Descriptor) *Mock {
	return &Mock{src: src, desc: desc, sample: newLatest()}
}

func (m *Mock) Orientation() orientation.Quaternion {
	q, rate, err := m.src.Next()
	if err != nil {
		slog.Warn("mock device: source error, keeping last sample", "error", err)
	} else {
		m.sample.store(q, rate)
	}
	return m.sample.orientation()
}

func (m *Mock) SetPrediction(periodSeconds float32, enabled bool) {
	m.sample.setPrediction(periodSeconds, enabled)
}

func (m *Mock) Descriptor() Descriptor {
	return m.desc
}

func (m *Mock) Close() error {
	return nil
}
