package device

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// Serial reads an Xsens-style IMU streaming $PSONCMS sentences.
type Serial struct {
	port   io.ReadWriteCloser
	desc   Descriptor
	sample *latest
	done   chan struct{}
}

// OpenSerial opens the port and waits up to wait for the first orientation.
func OpenSerial(portName string, baudRate int, wait time.Duration, desc Descriptor) (*Serial, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrNoDevice, portName, err)
	}
	slog.Info("serial device: port opened", "port", portName, "baud", baudRate)

	d := newSerial(port, desc)
	if !d.sample.waitFirst(wait) {
		port.Close()
		return nil, fmt.Errorf("%w: no PSONCMS sentence on %s within %v", ErrNoSensor, portName, wait)
	}
	return d, nil
}

func newSerial(port io.ReadWriteCloser, desc Descriptor) *Serial {
	d := &Serial{port: port, desc: desc, sample: newLatest(), done: make(chan struct{})}
	go d.readLoop(bufio.NewReader(port))
	return d
}

func (d *Serial) readLoop(reader *bufio.Reader) {
	defer close(d.done)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			slog.Info("serial device: reader stopped", "error", err)
			return
		}
		q, rate, ok := parseSentence(line)
		if !ok {
			continue
		}
		d.sample.store(q, rate)
	}
}

// parseSentence extracts orientation and rate of turn from one NMEA line.
// Other sentence types and corrupt lines are ignored.
func parseSentence(line string) (orientation.Quaternion, orientation.Rate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return orientation.Quaternion{}, orientation.Rate{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return orientation.Quaternion{}, orientation.Rate{}, false
	}
	if sentence.DataType() != nmea.TypePSONCMS {
		return orientation.Quaternion{}, orientation.Rate{}, false
	}

	m := sentence.(nmea.PSONCMS)
	q := orientation.Quaternion{
		W: float32(m.Quaternion0),
		X: float32(m.Quaternion1),
		Y: float32(m.Quaternion2),
		Z: float32(m.Quaternion3),
	}.Normalize()
	rate := orientation.Rate{X: m.RateOfTurnX, Y: m.RateOfTurnY, Z: m.RateOfTurnZ}
	return q, rate, true
}

func (d *Serial) Orientation() orientation.Quaternion {
	return d.sample.orientation()
}

func (d *Serial) SetPrediction(periodSeconds float32, enabled bool) {
	d.sample.setPrediction(periodSeconds, enabled)
}

func (d *Serial) Descriptor() Descriptor {
	return d.desc
}

// Close releases the port. The reader goroutine exits on its next read error.
func (d *Serial) Close() error {
	return d.port.Close()
}
