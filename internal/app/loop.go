// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/relabs-tech/orientation_server/internal/broadcast"
	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/frame"
	"github.com/relabs-tech/orientation_server/internal/metrics"
	"github.com/relabs-tech/orientation_server/internal/settings"
)

// ErrLoopStopped is returned by commands sent after the loop has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// Payload selects what a response carries after its header.
type Payload int

const (
	PayloadNone Payload = iota
	PayloadOrientation
	PayloadDevice
)

func (p Payload) String() string {
	switch p {
	case PayloadOrientation:
		return "orientation"
	case PayloadDevice:
		return "device"
	default:
		return "status"
	}
}

type loopCmd interface{ isLoopCmd() }

type baseLoopCmd struct{}

func (baseLoopCmd) isLoopCmd() {}

type subscribeCmd struct {
	baseLoopCmd
	sub  broadcast.Subscriber
	done chan struct{}
}

type unsubscribeCmd struct {
	baseLoopCmd
	sub broadcast.Subscriber
}

type respondCmd struct {
	baseLoopCmd
	payload Payload
	code    int
	w       io.Writer
	reply   chan error
}

type configureCmd struct {
	baseLoopCmd
	assignments []settings.Assignment
	reply       chan settings.RuntimeConfig
}

type snapshotCmd struct {
	baseLoopCmd
	reply chan settings.RuntimeConfig
}

type countCmd struct {
	baseLoopCmd
	reply chan int
}

// Loop is the single goroutine that owns the subscriber registry, the
// runtime settings and the frame encoder. Request goroutines talk to it
// through commands; the broadcast tick runs between commands.
type Loop struct {
	dev          device.Device
	clock        clockwork.Clock
	store        *settings.Store
	registry     *broadcast.Registry
	enc          *frame.Encoder
	writeTimeout time.Duration
	cmdCh        chan loopCmd
	done         chan struct{}
}

// NewLoop builds a loop around dev. dev may be nil, in which case nothing is
// broadcast and only status responses can be produced.
func NewLoop(dev device.Device, initial settings.RuntimeConfig, serverName string, writeTimeout time.Duration, clock clockwork.Clock) *Loop {
	return &Loop{
		dev:          dev,
		clock:        clock,
		store:        settings.NewStore(initial),
		registry:     broadcast.NewRegistry(),
		enc:          frame.NewEncoder(serverName),
		writeTimeout: writeTimeout,
		cmdCh:        make(chan loopCmd, 64),
		done:         make(chan struct{}),
	}
}

// HasDevice reports whether orientation and device queries can be answered.
func (l *Loop) HasDevice() bool {
	return l.dev != nil
}

// Run processes commands and broadcast ticks until ctx is cancelled, then
// closes every subscriber.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer l.registry.CloseAll()

	slog.Info("loop: started", "interval", l.store.Get().BroadcastInterval)
	for {
		if !l.waitTick(ctx) {
			slog.Info("loop: stopped")
			return
		}
		l.tick()
	}
}

// waitTick arms a timer with the current interval and serves commands until
// it fires. It returns false when ctx is done.
func (l *Loop) waitTick(ctx context.Context) bool {
	interval := l.store.Get().BroadcastInterval
	timer := l.clock.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.Chan():
			return true
		case cmd := <-l.cmdCh:
			l.handle(cmd)
			if next := l.store.Get().BroadcastInterval; next != interval {
				interval = next
				timer.Reset(interval)
			}
		}
	}
}

func (l *Loop) tick() {
	if l.dev == nil || l.registry.Len() == 0 {
		return
	}
	start := l.clock.Now()
	payload := l.enc.Orientation(frame.NoHeader, l.dev.Orientation())
	l.registry.Broadcast(payload)
	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(l.clock.Since(start).Seconds())
}

func (l *Loop) handle(cmd loopCmd) {
	switch c := cmd.(type) {
	case subscribeCmd:
		l.registry.Subscribe(c.sub)
		close(c.done)
	case unsubscribeCmd:
		if l.registry.Unsubscribe(c.sub) {
			logTransition(c.sub.ID(), StateSubscribed, StateClosed)
		}
	case respondCmd:
		c.reply <- l.respond(c)
	case configureCmd:
		l.configure(c.assignments)
		c.reply <- l.store.Get()
	case snapshotCmd:
		c.reply <- l.store.Get()
	case countCmd:
		c.reply <- l.registry.Len()
	}
}

func (l *Loop) respond(c respondCmd) error {
	var payload []byte
	switch {
	case c.payload == PayloadOrientation && l.dev != nil:
		payload = l.enc.Orientation(c.code, l.dev.Orientation())
	case c.payload == PayloadDevice && l.dev != nil:
		payload = l.enc.Device(c.code, l.dev.Descriptor())
	default:
		payload = l.enc.Status(c.code)
	}

	if conn, ok := c.w.(net.Conn); ok && l.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	_, err := c.w.Write(payload)
	metrics.HTTPResponsesTotal.WithLabelValues(c.payload.String(), strconv.Itoa(c.code)).Inc()
	return err
}

func (l *Loop) configure(assignments []settings.Assignment) {
	for _, a := range assignments {
		if !l.store.Set(a.Name, a.Value) {
			slog.Debug("loop: ignoring setting", "name", a.Name, "value", a.Value)
			metrics.ConfigUpdatesTotal.WithLabelValues(metricField(a.Name), "ignored").Inc()
			continue
		}
		metrics.ConfigUpdatesTotal.WithLabelValues(metricField(a.Name), "applied").Inc()

		cfg := l.store.Get()
		switch a.Name {
		case settings.FieldInterval:
			slog.Info("loop: broadcast interval changed", "interval", cfg.BroadcastInterval)
		case settings.FieldPrediction:
			slog.Info("loop: prediction changed", "period_s", cfg.PredictionPeriod, "enabled", cfg.PredictionEnabled)
			if l.dev != nil {
				l.dev.SetPrediction(cfg.PredictionPeriod, cfg.PredictionEnabled)
			}
		}
	}
}

// metricField keeps the label set bounded to the known fields.
func metricField(f settings.Field) string {
	switch f {
	case settings.FieldInterval, settings.FieldPrediction:
		return string(f)
	default:
		return "unknown"
	}
}

// send delivers cmd unless ctx is done or the loop has exited.
func (l *Loop) send(ctx context.Context, cmd loopCmd) error {
	select {
	case l.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Subscribe registers sub and returns once it will receive the next tick.
func (l *Loop) Subscribe(ctx context.Context, sub broadcast.Subscriber) error {
	done := make(chan struct{})
	if err := l.send(ctx, subscribeCmd{sub: sub, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}

// Unsubscribe removes and closes sub. It does not wait for the loop, and a
// subscriber already dropped by a failed write is ignored.
func (l *Loop) Unsubscribe(sub broadcast.Subscriber) {
	select {
	case l.cmdCh <- unsubscribeCmd{sub: sub}:
	case <-l.done:
	}
}

// Respond encodes a response with status code and writes it to w from the
// loop goroutine. A nil device turns orientation and device payloads into a
// bare status response.
func (l *Loop) Respond(ctx context.Context, w io.Writer, code int, payload Payload) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, respondCmd{payload: payload, code: code, w: w, reply: reply}); err != nil {
		return err
	}
	return l.await(ctx, reply)
}

// Configure applies assignments in order and returns the resulting settings.
func (l *Loop) Configure(ctx context.Context, assignments []settings.Assignment) (settings.RuntimeConfig, error) {
	reply := make(chan settings.RuntimeConfig, 1)
	if err := l.send(ctx, configureCmd{assignments: assignments, reply: reply}); err != nil {
		return settings.RuntimeConfig{}, err
	}
	select {
	case cfg := <-reply:
		return cfg, nil
	case <-ctx.Done():
		return settings.RuntimeConfig{}, ctx.Err()
	case <-l.done:
		return settings.RuntimeConfig{}, ErrLoopStopped
	}
}

// snapshot returns the current runtime settings.
func (l *Loop) snapshot(ctx context.Context) (settings.RuntimeConfig, error) {
	reply := make(chan settings.RuntimeConfig, 1)
	if err := l.send(ctx, snapshotCmd{reply: reply}); err != nil {
		return settings.RuntimeConfig{}, err
	}
	select {
	case cfg := <-reply:
		return cfg, nil
	case <-ctx.Done():
		return settings.RuntimeConfig{}, ctx.Err()
	case <-l.done:
		return settings.RuntimeConfig{}, ErrLoopStopped
	}
}

// subscribers returns the number of live push subscribers.
func (l *Loop) subscribers(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := l.send(ctx, countCmd{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-l.done:
		return 0, ErrLoopStopped
	}
}

func (l *Loop) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
}
