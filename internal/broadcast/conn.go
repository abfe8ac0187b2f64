package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn adapts a websocket connection to Subscriber. Frames are sent as text
// messages; a write that cannot finish before the deadline fails, so a
// client that stops reading is dropped instead of buffered.
type Conn struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration
	closeOnce    sync.Once
}

// NewConn wraps c. A zero writeTimeout disables the deadline.
func NewConn(c *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{conn: c, id: uuid.NewString(), writeTimeout: writeTimeout}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) WriteFrame(payload []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection once; later calls return nil.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// ReadPump discards incoming messages until the connection fails, then
// calls onClose. It blocks and is meant to run on its own goroutine.
func (c *Conn) ReadPump(onClose func()) {
	defer onClose()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
