package channel

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/na7dx/packetnode/internal/kiss"
)

// TCPKISS is a client-side KISS-over-TCP adapter: it dials a TNC or
// software modem exposing a KISS TCP port and reconnects with the
// standard backoff schedule whenever the link drops.
type TCPKISS struct {
	addr   string
	logger *log.Logger

	mu     sync.Mutex
	h      Handlers
	conn   net.Conn
	closed bool

	dial func(addr string) (net.Conn, error) // overridable for tests
}

// NewTCPKISS returns a TCPKISS adapter dialing addr (host:port).
func NewTCPKISS(addr string, logger *log.Logger) *TCPKISS {
	if logger == nil {
		logger = log.Default()
	}
	return &TCPKISS{
		addr:   addr,
		logger: logger.With("adapter", "tcpkiss", "addr", addr),
		h:      noopHandlers(),
		dial:   func(a string) (net.Conn, error) { return net.DialTimeout("tcp", a, 3*time.Second) },
	}
}

func (t *TCPKISS) SetHandlers(h Handlers) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h = fillHandlers(h)
}

// Open starts the connect/reconnect loop in the background and returns
// immediately; lifecycle events arrive via the registered Handlers.
func (t *TCPKISS) Open(ctx context.Context) error {
	go t.run(ctx)
	return nil
}

func (t *TCPKISS) run(ctx context.Context) {
	b := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := t.dial(t.addr)
		if err != nil {
			t.logger.Warn("connect failed", "err", err)
			t.handlers().OnError(err)

			delay, ok := b.Next()
			if !ok {
				t.logger.Error("giving up after repeated connect failures")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		b.Reset()
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.mu.Unlock()

		t.logger.Info("connected")
		t.handlers().OnOpen()
		t.readLoop(ctx, conn)
		t.handlers().OnClose()

		t.mu.Lock()
		closed := t.closed
		t.conn = nil
		t.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
	}
}

func (t *TCPKISS) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := append([]byte(nil), buf[:n]...)
			t.handlers().OnData(cp)
		}
		if err != nil {
			if ctx.Err() == nil {
				t.handlers().OnError(err)
			}
			return
		}
	}
}

func (t *TCPKISS) handlers() Handlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.h
}

// Send KISS-frames one AX.25 frame and writes it to the live
// connection. A TCP adapter drops (with an error event) rather than
// blocking when disconnected.
func (t *TCPKISS) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		err := errClosed
		t.handlers().OnError(err)
		return err
	}
	if _, err := conn.Write(kiss.Encode(0, data)); err != nil {
		t.handlers().OnError(err)
		return err
	}
	return nil
}

func (t *TCPKISS) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
