package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/orientation_server/internal/orientation"
)

// RunConsole subscribes to the push channel at url and prints every frame as
// roll/pitch/yaw until ctx is cancelled or the server goes away.
func RunConsole(ctx context.Context, url string, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("console: dial %s: %w", url, err)
	}
	defer conn.Close()
	slog.Info("console: subscribed", "url", url)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				slog.Info("console: server closed the channel", "code", closeErr.Code)
				return nil
			}
			return fmt.Errorf("console: read: %w", err)
		}

		q, err := parseFrame(string(msg))
		if err != nil {
			slog.Warn("console: bad frame", "frame", string(msg), "error", err)
			continue
		}
		p := q.Pose()
		fmt.Fprintf(out, "[POSE]  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f\n", p.Roll, p.Pitch, p.Yaw)
	}
}

// parseFrame decodes a push frame of the form [w,x,y,z].
func parseFrame(s string) (orientation.Quaternion, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return orientation.Quaternion{}, errors.New("frame is not a bracketed list")
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 4 {
		return orientation.Quaternion{}, fmt.Errorf("frame has %d components, want 4", len(parts))
	}

	var v [4]float32
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return orientation.Quaternion{}, fmt.Errorf("component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return orientation.Quaternion{W: v[0], X: v[1], Y: v[2], Z: v[3]}, nil
}
