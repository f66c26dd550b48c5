package channel

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/na7dx/packetnode/internal/kiss"
)

// agwHeaderLen is the fixed header size of an AGWPE frame: 4-byte port,
// 1-byte data kind (+1 padding), 1-byte PID (+1 padding), two 10-byte
// call fields, a 4-byte payload length (offset 28), and 4 reserved bytes.
const agwHeaderLen = 36

// AGW is a TCP client speaking the AGW text/binary command protocol.
// Bytes flow the same as any other adapter once the AGW envelope is
// stripped.
type AGW struct {
	addr   string
	port   uint32
	logger *log.Logger

	mu     sync.Mutex
	h      Handlers
	conn   net.Conn
	closed bool

	dial func(addr string) (net.Conn, error)
}

// NewAGW returns an AGW adapter dialing addr, using AGW radio port
// number agwPort (not a TCP port, the AGWPE "radio port" index).
func NewAGW(addr string, agwPort uint32, logger *log.Logger) *AGW {
	if logger == nil {
		logger = log.Default()
	}
	return &AGW{
		addr:   addr,
		port:   agwPort,
		logger: logger.With("adapter", "agw", "addr", addr),
		h:      noopHandlers(),
		dial:   func(a string) (net.Conn, error) { return net.DialTimeout("tcp", a, 3*time.Second) },
	}
}

func (a *AGW) SetHandlers(h Handlers) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.h = fillHandlers(h)
}

func (a *AGW) Open(ctx context.Context) error {
	conn, err := a.dial(a.addr)
	if err != nil {
		a.logger.Error("connect failed", "err", err)
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.handlers().OnOpen()
	go a.readLoop(ctx, conn)
	return nil
}

func (a *AGW) readLoop(ctx context.Context, conn net.Conn) {
	hdr := make([]byte, agwHeaderLen)
	for {
		if _, err := readFull(conn, hdr); err != nil {
			if ctx.Err() == nil {
				a.handlers().OnError(err)
				a.handlers().OnClose()
			}
			return
		}
		dataLen := binary.LittleEndian.Uint32(hdr[28:32])
		payload := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := readFull(conn, payload); err != nil {
				a.handlers().OnError(err)
				a.handlers().OnClose()
				return
			}
		}
		// AGW delivers whole frames; re-frame as KISS so the channel
		// manager's uniform decode pipeline applies to every adapter.
		a.handlers().OnData(kiss.Encode(0, payload))
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *AGW) handlers() Handlers {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h
}

// Send wraps payload in a 'K' (raw AX.25 frame) AGW frame and writes it.
func (a *AGW) Send(payload []byte) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.handlers().OnError(errClosed)
		return errClosed
	}

	hdr := make([]byte, agwHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:4], a.port)
	hdr[4] = 'K'
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(len(payload)))

	if _, err := conn.Write(hdr); err != nil {
		a.handlers().OnError(err)
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		a.handlers().OnError(err)
		return err
	}
	return nil
}

func (a *AGW) Close() error {
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
