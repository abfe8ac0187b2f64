// Package frame serializes orientation and device payloads into a single
// reusable buffer.
package frame

import (
	"net/http"
	"strconv"

	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// BufferSize bounds every payload the encoder produces.
const BufferSize = 100 * 1024

// maxServerName keeps the header well inside BufferSize.
const maxServerName = 256

// precision matches printf's %f.
const precision = 6

// NoHeader encodes a bare push frame.
const NoHeader = 0

// Encoder writes payloads into one pre-allocated buffer. The slice returned
// by each method aliases that buffer and is only valid until the next call.
// An Encoder must not be used from more than one goroutine.
type Encoder struct {
	buf    []byte
	server string
}

// NewEncoder returns an encoder whose HTTP headers name server.
func NewEncoder(server string) *Encoder {
	if len(server) > maxServerName {
		server = server[:maxServerName]
	}
	return &Encoder{buf: make([]byte, 0, BufferSize), server: server}
}

// Status encodes an HTTP/1.0 response header with no body.
func (e *Encoder) Status(code int) []byte {
	e.buf = e.appendHeader(e.buf[:0], code)
	return e.buf
}

// Orientation encodes q as [w,x,y,z], preceded by a response header unless
// code is NoHeader.
func (e *Encoder) Orientation(code int, q orientation.Quaternion) []byte {
	b := e.appendHeader(e.buf[:0], code)
	b = append(b, '[')
	b = appendFloat(b, q.W)
	b = append(b, ',')
	b = appendFloat(b, q.X)
	b = append(b, ',')
	b = appendFloat(b, q.Y)
	b = append(b, ',')
	b = appendFloat(b, q.Z)
	b = append(b, ']')
	e.buf = b
	return e.buf
}

// Device encodes d as an object literal, preceded by a response header
// unless code is NoHeader.
func (e *Encoder) Device(code int, d device.Descriptor) []byte {
	b := e.appendHeader(e.buf[:0], code)
	b = append(b, "{fov: "...)
	b = appendFloat(b, d.FOV)
	b = append(b, ",hScreenSize: "...)
	b = appendFloat(b, d.HScreenSize)
	b = append(b, ",vScreenSize: "...)
	b = appendFloat(b, d.VScreenSize)
	b = append(b, ",vScreenCenter: "...)
	b = appendFloat(b, d.VScreenCenter)
	b = append(b, ",eyeToScreenDistance: "...)
	b = appendFloat(b, d.EyeToScreenDistance)
	b = append(b, ",lensSeparationDistance: "...)
	b = appendFloat(b, d.LensSeparationDistance)
	b = append(b, ",interpupillaryDistance: "...)
	b = appendFloat(b, d.InterpupillaryDistance)
	b = append(b, ",hResolution: "...)
	b = strconv.AppendInt(b, int64(d.HResolution), 10)
	b = append(b, ",vResolution: "...)
	b = strconv.AppendInt(b, int64(d.VResolution), 10)
	b = append(b, ",distortionK: "...)
	b = appendList(b, d.DistortionK)
	b = append(b, ",chromaAbCorrection: "...)
	b = appendList(b, d.ChromaAbCorrection)
	b = append(b, '}')
	e.buf = b
	return e.buf
}

func (e *Encoder) appendHeader(b []byte, code int) []byte {
	if code == NoHeader {
		return b
	}
	b = append(b, "HTTP/1.0 "...)
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = append(b, http.StatusText(code)...)
	b = append(b, "\r\nServer: "...)
	b = append(b, e.server...)
	b = append(b, "\r\nAccess-Control-Allow-Origin: *\r\nMime-Type: text/plain\r\n\r\n"...)
	return b
}

func appendFloat(b []byte, v float32) []byte {
	return strconv.AppendFloat(b, float64(v), 'f', precision, 32)
}

func appendList(b []byte, vs [4]float32) []byte {
	b = append(b, '[')
	for i, v := range vs {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = appendFloat(b, v)
	}
	return append(b, ']')
}
