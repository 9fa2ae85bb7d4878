package sync

import (
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla websocket connection to the Conn interface,
// adding write serialization, read/write deadlines and keepalive pings.
type wsConn struct {
	c *websocket.Conn

	writeMu stdsync.Mutex

	pingStop chan struct{}
	pingOnce stdsync.Once
}

func newWSConn(c *websocket.Conn) *wsConn {
	w := &wsConn{
		c:        c,
		pingStop: make(chan struct{}),
	}

	c.SetReadLimit(maxMessageSize)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	go w.pingLoop()
	return w
}

func (w *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-w.pingStop:
			return
		}
	}
}

func (w *wsConn) ReadJSON(v interface{}) error {
	return w.c.ReadJSON(v)
}

func (w *wsConn) WriteJSON(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteJSON(v)
}

func (w *wsConn) Close() error {
	w.pingOnce.Do(func() { close(w.pingStop) })
	return w.c.Close()
}
