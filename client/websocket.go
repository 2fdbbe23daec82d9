package client

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsLink adapts a WebSocket connection to the byte-stream Link contract.
// A pump goroutine performs the blocking reads, because expiring a read
// deadline on a websocket.Conn poisons the connection; Read then honors the
// deadline by waiting on the pump channel and reporting a plain timeout the
// reader loop treats as normal.
type wsLink struct {
	conn *websocket.Conn

	frames chan []byte

	errMu   sync.Mutex
	readErr error

	mu       sync.Mutex
	pending  []byte
	deadline time.Time
}

// DialWebSocket opens a WebSocket link. Addresses without a scheme, or with
// tcp://, are treated as ws://.
func DialWebSocket(addr string) (Link, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	if u.Scheme == "" || u.Scheme == "tcp" {
		u.Scheme = "ws"
	}
	if u.Path == "" {
		u.Path = "/"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", u.String(), err)
	}
	l := &wsLink{
		conn:   conn,
		frames: make(chan []byte, 16),
	}
	go l.pump()
	return l, nil
}

func (l *wsLink) pump() {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.errMu.Lock()
			l.readErr = err
			l.errMu.Unlock()
			close(l.frames)
			return
		}
		// a message is a complete frame; restore the terminator the framer
		// expects
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		l.frames <- data
	}
}

func (l *wsLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		var wait <-chan time.Time
		if !l.deadline.IsZero() {
			timer := time.NewTimer(time.Until(l.deadline))
			defer timer.Stop()
			wait = timer.C
		}
		select {
		case data, ok := <-l.frames:
			if !ok {
				l.errMu.Lock()
				defer l.errMu.Unlock()
				return 0, l.readErr
			}
			l.pending = data
		case <-wait:
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *wsLink) Write(p []byte) (int, error) {
	if err := l.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (l *wsLink) SetReadDeadline(t time.Time) error {
	l.mu.Lock()
	l.deadline = t
	l.mu.Unlock()
	return nil
}

func (l *wsLink) Close() error {
	return l.conn.Close()
}
