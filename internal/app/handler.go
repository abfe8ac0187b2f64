package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/orientation_server/internal/broadcast"
	"github.com/relabs-tech/orientation_server/internal/settings"
)

const (
	// MaxBodySize bounds a configuration body.
	MaxBodySize = 100 * 1024

	bodyChunkSize = 4 * 1024
	setPrefix     = "/set"
)

// ConnState is the lifecycle of one client connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateAwaitingBody
	StateSubscribed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBody:
		return "awaiting_body"
	case StateSubscribed:
		return "subscribed"
	default:
		return "closed"
	}
}

func logTransition(id string, from, to ConnState) {
	slog.Debug("connection: state change", "conn", id, "from", from.String(), "to", to.String())
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeHandled
	outcomeRejected
)

// Outcome is the result of one route: it either handled the request, passed
// it on, or rejected it with a status code.
type Outcome struct {
	kind   outcomeKind
	Code   int
	Reason string
}

var (
	Handled  = Outcome{kind: outcomeHandled}
	Continue = Outcome{kind: outcomeContinue}
)

// Rejected ends the request with an empty-bodied response.
func Rejected(code int, reason string) Outcome {
	return Outcome{kind: outcomeRejected, Code: code, Reason: reason}
}

func (o Outcome) IsContinue() bool { return o.kind == outcomeContinue }
func (o Outcome) IsRejected() bool { return o.kind == outcomeRejected }

// connection carries per-request state through the routes.
type connection struct {
	id    string
	state ConnState
}

func (c *connection) to(s ConnState) {
	if c.state == s {
		return
	}
	logTransition(c.id, c.state, s)
	c.state = s
}

type route func(w http.ResponseWriter, r *http.Request, c *connection) Outcome

// Handler multiplexes the push channel, the metadata queries and the
// configuration route on one listener. Every plain HTTP response is written
// by the loop on the hijacked connection.
type Handler struct {
	loop     *Loop
	upgrader websocket.Upgrader
	timeout  time.Duration
	routes   []route
}

// NewHandler builds the handler. writeTimeout bounds each push frame write.
func NewHandler(loop *Loop, writeTimeout time.Duration) *Handler {
	h := &Handler{
		loop: loop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		timeout: writeTimeout,
	}
	h.routes = []route{h.serveUpgrade, h.serveQuery, h.serveSet}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &connection{id: uuid.NewString(), state: StateIdle}
	slog.Debug("connection: request", "conn", c.id, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)

	outcome := Rejected(http.StatusNotFound, "no route")
	for _, rt := range h.routes {
		if o := rt(w, r, c); !o.IsContinue() {
			outcome = o
			break
		}
	}

	if outcome.IsRejected() {
		slog.Debug("connection: rejected", "conn", c.id, "code", outcome.Code, "reason", outcome.Reason)
		h.reply(w, r, c, outcome.Code, PayloadNone)
	}
}

// serveUpgrade turns a websocket handshake on any path into a subscriber.
func (h *Handler) serveUpgrade(w http.ResponseWriter, r *http.Request, c *connection) Outcome {
	if !websocket.IsWebSocketUpgrade(r) {
		return Continue
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the client.
		slog.Debug("connection: upgrade failed", "conn", c.id, "error", err)
		c.to(StateClosed)
		return Handled
	}

	sub := broadcast.NewConn(ws, h.timeout)
	c.id = sub.ID()
	if err := h.loop.Subscribe(r.Context(), sub); err != nil {
		slog.Debug("connection: subscribe failed", "conn", c.id, "error", err)
		_ = sub.Close()
		c.to(StateClosed)
		return Handled
	}
	c.to(StateSubscribed)

	go sub.ReadPump(func() { h.loop.Unsubscribe(sub) })
	return Handled
}

// serveQuery answers /orientation and /device.
func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request, c *connection) Outcome {
	var payload Payload
	switch r.URL.Path {
	case "/orientation":
		payload = PayloadOrientation
	case "/device":
		payload = PayloadDevice
	default:
		return Continue
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return Continue
	}
	if !h.loop.HasDevice() {
		return Rejected(http.StatusNotFound, "no device attached")
	}
	if r.Method == http.MethodHead {
		payload = PayloadNone
	}

	h.reply(w, r, c, http.StatusOK, payload)
	return Handled
}

// serveSet applies name=value pairs from a POST body to any /set* path.
func (h *Handler) serveSet(w http.ResponseWriter, r *http.Request, c *connection) Outcome {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, setPrefix) {
		return Continue
	}
	c.to(StateAwaitingBody)

	var body settings.PendingBody
	limited := io.LimitReader(r.Body, MaxBodySize+1)
	if _, err := io.CopyBuffer(&body, limited, make([]byte, bodyChunkSize)); err != nil {
		slog.Debug("connection: body read failed", "conn", c.id, "error", err)
		c.to(StateClosed)
		return Handled
	}
	if body.Size() > MaxBodySize {
		// Drain a bounded tail so the client reads the status before the close.
		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, MaxBodySize))
		return Rejected(http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", MaxBodySize))
	}

	if _, err := h.loop.Configure(r.Context(), body.Finish()); err != nil {
		slog.Debug("connection: configure failed", "conn", c.id, "error", err)
		c.to(StateClosed)
		return Handled
	}

	h.reply(w, r, c, http.StatusOK, PayloadNone)
	return Handled
}

// reply hijacks the connection, has the loop write one response and closes.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, c *connection, code int, payload Payload) {
	defer c.to(StateClosed)

	conn, err := hijack(w)
	if err != nil {
		slog.Warn("connection: hijack failed", "conn", c.id, "error", err)
		return
	}
	defer conn.Close()

	if err := h.loop.Respond(r.Context(), conn, code, payload); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("connection: response write failed", "conn", c.id, "error", err)
	}
}

func hijack(w http.ResponseWriter) (net.Conn, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.New("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}
	return conn, nil
}
