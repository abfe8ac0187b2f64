package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/orientation_server/internal/config"
	"github.com/relabs-tech/orientation_server/internal/device"
	"github.com/relabs-tech/orientation_server/internal/orientation"
	"github.com/relabs-tech/orientation_server/internal/settings"
)

const testHeader = "Server: test\r\nAccess-Control-Allow-Origin: *\r\nMime-Type: text/plain\r\n\r\n"

func newTestServer(t *testing.T, dev device.Device) (*Loop, string) {
	t.Helper()
	l := NewLoop(dev, settings.RuntimeConfig{
		BroadcastInterval: 5 * time.Millisecond,
		PredictionPeriod:  0.04,
		PredictionEnabled: true,
	}, "test", time.Second, clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	srv := httptest.NewServer(NewHandler(l, time.Second))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-l.done
	})
	return l, srv.Listener.Addr().String()
}

func rawRequest(t *testing.T, addr, req string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = io.WriteString(conn, req)
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func post(path, body string) string {
	return fmt.Sprintf("POST %s HTTP/1.0\r\nContent-Length: %d\r\n\r\n%s", path, len(body), body)
}

func TestHandler_Orientation(t *testing.T) {
	_, addr := newTestServer(t, &fakeDevice{q: orientation.Identity})

	resp := rawRequest(t, addr, "GET /orientation HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+testHeader+"[1.000000,0.000000,0.000000,0.000000]", resp)
}

func TestHandler_HeadOrientation(t *testing.T) {
	_, addr := newTestServer(t, &fakeDevice{q: orientation.Identity})

	resp := rawRequest(t, addr, "HEAD /orientation HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+testHeader, resp)
}

func TestHandler_Device(t *testing.T) {
	dev := &fakeDevice{desc: device.DescriptorFromConfig(config.Default())}
	_, addr := newTestServer(t, dev)

	resp := rawRequest(t, addr, "GET /device HTTP/1.0\r\n\r\n")
	require.True(t, strings.HasPrefix(resp, "HTTP/1.0 200 OK\r\n"+testHeader+"{fov: "), resp)
	assert.Contains(t, resp, ",hResolution: 1280,vResolution: 800,")
	assert.True(t, strings.HasSuffix(resp, "chromaAbCorrection: [0.996000, -0.004000, 1.014000, 0.000000]}"), resp)
}

func TestHandler_NotFound(t *testing.T) {
	_, addr := newTestServer(t, &fakeDevice{})

	for _, req := range []string{
		"GET /nothing HTTP/1.0\r\n\r\n",
		"GET /set HTTP/1.0\r\n\r\n",
		"POST /orientation HTTP/1.0\r\nContent-Length: 0\r\n\r\n",
	} {
		assert.Equal(t, "HTTP/1.0 404 Not Found\r\n"+testHeader, rawRequest(t, addr, req), req)
	}
}

func TestHandler_QueriesWithoutDevice(t *testing.T) {
	_, addr := newTestServer(t, nil)

	assert.Equal(t, "HTTP/1.0 404 Not Found\r\n"+testHeader, rawRequest(t, addr, "GET /orientation HTTP/1.0\r\n\r\n"))
	assert.Equal(t, "HTTP/1.0 404 Not Found\r\n"+testHeader, rawRequest(t, addr, "GET /device HTTP/1.0\r\n\r\n"))
}

func TestHandler_SetAppliesBody(t *testing.T) {
	dev := &fakeDevice{}
	l, addr := newTestServer(t, dev)

	resp := rawRequest(t, addr, post("/set", "interval=50&prediction=40&bogus"))
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+testHeader, resp)

	cfg, err := l.snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.BroadcastInterval)
	assert.Equal(t, float32(0.04), cfg.PredictionPeriod)
	assert.True(t, cfg.PredictionEnabled)
	assert.Equal(t, []predictionCall{{0.04, true}}, dev.predictionCalls())
}

func TestHandler_SetPrefixAndChunkedBody(t *testing.T) {
	l, addr := newTestServer(t, &fakeDevice{})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	body := "interval=25&prediction=0"
	_, err = fmt.Fprintf(conn, "POST /settings HTTP/1.0\r\nContent-Length: %d\r\n\r\n", len(body))
	require.NoError(t, err)
	for _, piece := range []string{"inter", "val=25&pre", "diction=0"} {
		_, err = io.WriteString(conn, piece)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+testHeader, string(resp))

	cfg, err := l.snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25*time.Millisecond, cfg.BroadcastInterval)
	assert.False(t, cfg.PredictionEnabled)
}

func TestHandler_SetBodyTooLarge(t *testing.T) {
	l, addr := newTestServer(t, &fakeDevice{})

	body := "interval=50&" + strings.Repeat("x", MaxBodySize)
	resp := rawRequest(t, addr, post("/set", body))
	assert.Equal(t, "HTTP/1.0 413 Request Entity Too Large\r\n"+testHeader, resp)

	cfg, err := l.snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.BroadcastInterval)
}

func TestHandler_PushMatchesQuery(t *testing.T) {
	q := orientation.Pose{Roll: 10, Pitch: -20, Yaw: 30}.Quaternion()
	_, addr := newTestServer(t, &fakeDevice{q: q})

	client, _, err := ws.DefaultDialer.Dial("ws://"+addr+"/anything", nil)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))

	kind, pushed, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, kind)

	resp := rawRequest(t, addr, "GET /orientation HTTP/1.0\r\n\r\n")
	assert.Equal(t, "HTTP/1.0 200 OK\r\n"+testHeader+string(pushed), resp)
}

func TestHandler_DisconnectedSubscriberIsRemoved(t *testing.T) {
	l, addr := newTestServer(t, &fakeDevice{q: orientation.Identity})

	keep, _, err := ws.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	defer keep.Close()
	gone, _, err := ws.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return subscriberCount(t, l) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, gone.Close())
	require.Eventually(t, func() bool { return subscriberCount(t, l) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, keep.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := keep.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "[1.000000,0.000000,0.000000,0.000000]", string(msg))
}

func subscriberCount(t *testing.T, l *Loop) int {
	t.Helper()
	n, err := l.subscribers(context.Background())
	require.NoError(t, err)
	return n
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.ServerName = "test"
	cfg.BroadcastIntervalMS = 5

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, cfg, &fakeDevice{q: orientation.Identity}) }()

	resp := rawRequest(t, ln.Addr().String(), "GET /orientation HTTP/1.0\r\n\r\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.0 200 OK\r\n"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRunServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	err = RunServer(context.Background(), cfg, &fakeDevice{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestInitialSettings(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, settings.RuntimeConfig{
		BroadcastInterval: 2 * time.Millisecond,
		PredictionPeriod:  0.04,
		PredictionEnabled: true,
	}, InitialSettings(cfg))

	cfg.PredictionMS = 0
	assert.False(t, InitialSettings(cfg).PredictionEnabled)
}
