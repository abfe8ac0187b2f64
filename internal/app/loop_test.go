package app

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/orientation"
	"github.com/relabs-tech/orientation_server/internal/settings"
)

type predictionCall struct {
	period  float32
	enabled bool
}

type fakeDevice struct {
	mu          sync.Mutex
	q           orientation.Quaternion
	desc        device.Descriptor
	reads       int
	predictions []predictionCall
}

func (d *fakeDevice) Orientation() orientation.Quaternion {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	return d.q
}

func (d *fakeDevice) SetPrediction(period float32, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.predictions = append(d.predictions, predictionCall{period, enabled})
}

func (d *fakeDevice) Descriptor() device.Descriptor { return d.desc }
func (d *fakeDevice) Close() error                  { return nil }

func (d *fakeDevice) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *fakeDevice) predictionCalls() []predictionCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]predictionCall(nil), d.predictions...)
}

type chanSubscriber struct {
	id     string
	frames chan string
	mu     sync.Mutex
	closed bool
}

func newChanSubscriber(id string) *chanSubscriber {
	return &chanSubscriber{id: id, frames: make(chan string, 16)}
}

func (s *chanSubscriber) ID() string { return s.id }

func (s *chanSubscriber) WriteFrame(p []byte) error {
	s.frames <- string(p)
	return nil
}

func (s *chanSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *chanSubscriber) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return ""
	}
}

func (s *chanSubscriber) expectNone(t *testing.T) {
	t.Helper()
	select {
	case f := <-s.frames:
		t.Fatalf("unexpected frame %q", f)
	case <-time.After(20 * time.Millisecond):
	}
}

func startLoop(t *testing.T, dev device.Device, interval time.Duration) (*Loop, *clockwork.FakeClock, context.CancelFunc) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	l := NewLoop(dev, settings.RuntimeConfig{
		BroadcastInterval: interval,
		PredictionPeriod:  0.04,
		PredictionEnabled: true,
	}, "test", 0, clock)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.done
	})
	return l, clock, cancel
}

func TestLoop_IntervalChangeAppliesWithinOneCycle(t *testing.T) {
	dev := &fakeDevice{q: orientation.Identity}
	l, clock, _ := startLoop(t, dev, 100*time.Millisecond)
	ctx := context.Background()

	sub := newChanSubscriber("a")
	require.NoError(t, l.Subscribe(ctx, sub))

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, "[1.000000,0.000000,0.000000,0.000000]", sub.next(t))

	cfg, err := l.Configure(ctx, settings.ParseAssignments("interval=50"))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.BroadcastInterval)

	clock.Advance(49 * time.Millisecond)
	sub.expectNone(t)
	clock.Advance(time.Millisecond)
	sub.next(t)
}

func TestLoop_InvalidIntervalIgnored(t *testing.T) {
	l, _, _ := startLoop(t, &fakeDevice{}, 100*time.Millisecond)
	ctx := context.Background()

	for _, body := range []string{"interval=0", "interval=abc", "interval=-3"} {
		_, err := l.Configure(ctx, settings.ParseAssignments(body))
		require.NoError(t, err)

		cfg, err := l.snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, cfg.BroadcastInterval, body)
	}
}

func TestLoop_PredictionForwardedToDevice(t *testing.T) {
	dev := &fakeDevice{}
	l, _, _ := startLoop(t, dev, time.Second)
	ctx := context.Background()

	_, err := l.Configure(ctx, settings.ParseAssignments("prediction=40"))
	require.NoError(t, err)
	_, err = l.Configure(ctx, settings.ParseAssignments("prediction=0"))
	require.NoError(t, err)
	cfg, err := l.Configure(ctx, settings.ParseAssignments("prediction=0"))
	require.NoError(t, err)

	assert.False(t, cfg.PredictionEnabled)
	assert.Equal(t, []predictionCall{{0.04, true}, {0, false}, {0, false}}, dev.predictionCalls())
}

func TestLoop_MixedBody(t *testing.T) {
	dev := &fakeDevice{}
	l, _, _ := startLoop(t, dev, time.Second)

	cfg, err := l.Configure(context.Background(), settings.ParseAssignments("interval=50&prediction=40&bogus"))
	require.NoError(t, err)

	assert.Equal(t, settings.RuntimeConfig{
		BroadcastInterval: 50 * time.Millisecond,
		PredictionPeriod:  0.04,
		PredictionEnabled: true,
	}, cfg)
	assert.Equal(t, []predictionCall{{0.04, true}}, dev.predictionCalls())
}

func TestLoop_ReadsDeviceOncePerTick(t *testing.T) {
	dev := &fakeDevice{q: orientation.Pose{Yaw: 30}.Quaternion()}
	l, clock, _ := startLoop(t, dev, 10*time.Millisecond)
	ctx := context.Background()

	subs := []*chanSubscriber{newChanSubscriber("a"), newChanSubscriber("b"), newChanSubscriber("c")}
	for _, s := range subs {
		require.NoError(t, l.Subscribe(ctx, s))
	}

	clock.Advance(10 * time.Millisecond)
	first := subs[0].next(t)
	for _, s := range subs[1:] {
		assert.Equal(t, first, s.next(t))
	}
	assert.Equal(t, 1, dev.readCount())
}

func TestLoop_Respond(t *testing.T) {
	l, _, _ := startLoop(t, &fakeDevice{q: orientation.Identity}, time.Second)

	var buf bytes.Buffer
	require.NoError(t, l.Respond(context.Background(), &buf, 200, PayloadOrientation))
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+
		"Server: test\r\n"+
		"Access-Control-Allow-Origin: *\r\n"+
		"Mime-Type: text/plain\r\n\r\n"+
		"[1.000000,0.000000,0.000000,0.000000]", buf.String())
}

func TestLoop_RespondWithoutDevice(t *testing.T) {
	l, _, _ := startLoop(t, nil, time.Second)
	assert.False(t, l.HasDevice())

	var buf bytes.Buffer
	require.NoError(t, l.Respond(context.Background(), &buf, 404, PayloadOrientation))
	assert.Equal(t, "HTTP/1.0 404 Not Found\r\n"+
		"Server: test\r\n"+
		"Access-Control-Allow-Origin: *\r\n"+
		"Mime-Type: text/plain\r\n\r\n", buf.String())
}

func TestLoop_StopClosesSubscribers(t *testing.T) {
	l, _, cancel := startLoop(t, &fakeDevice{}, time.Second)
	sub := newChanSubscriber("a")
	require.NoError(t, l.Subscribe(context.Background(), sub))

	cancel()
	<-l.done

	assert.True(t, sub.isClosed())
	assert.ErrorIs(t, l.Subscribe(context.Background(), newChanSubscriber("b")), ErrLoopStopped)
	_, err := l.snapshot(context.Background())
	assert.ErrorIs(t, err, ErrLoopStopped)
}

func TestLoop_UnsubscribeStopsFrames(t *testing.T) {
	l, clock, _ := startLoop(t, &fakeDevice{q: orientation.Identity}, 10*time.Millisecond)
	ctx := context.Background()

	sub := newChanSubscriber("a")
	require.NoError(t, l.Subscribe(ctx, sub))
	l.Unsubscribe(sub)

	// snapshot is queued behind the unsubscribe.
	_, err := l.snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, sub.isClosed())

	clock.Advance(10 * time.Millisecond)
	sub.expectNone(t)
}
