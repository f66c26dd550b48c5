package channel

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"

	"github.com/na7dx/packetnode/internal/kiss"
)

// Serial is a KISS adapter over a physical tty, such as a hardware TNC
// or a radio's built-in modem. It opens the port in raw mode at the
// configured baud rate and runs its own read-pump goroutine.
type Serial struct {
	device string
	baud   int
	logger *log.Logger

	mu      sync.Mutex
	h       Handlers
	port    *term.Term
	closed  bool
	pending []byte // single-packet send buffer while the port is down

	openFn func(device string, baud int) (*term.Term, error)
}

// NewSerial returns a Serial adapter for the given device path (e.g.
// "/dev/ttyUSB0") at baud.
func NewSerial(device string, baud int, logger *log.Logger) *Serial {
	if logger == nil {
		logger = log.Default()
	}
	return &Serial{
		device: device,
		baud:   baud,
		logger: logger.With("adapter", "serial", "device", device),
		h:      noopHandlers(),
		openFn: defaultOpenSerial,
	}
}

func defaultOpenSerial(device string, baud int) (*term.Term, error) {
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Serial) SetHandlers(h Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = fillHandlers(h)
}

func (s *Serial) Open(ctx context.Context) error {
	t, err := s.openFn(s.device, s.baud)
	if err != nil {
		s.logger.Error("open failed", "err", err)
		return err
	}

	s.mu.Lock()
	s.port = t
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("opened")
	s.handlers().OnOpen()

	if len(pending) > 0 {
		_ = s.Send(pending)
	}

	go s.readLoop(ctx, t)
	return nil
}

func (s *Serial) readLoop(ctx context.Context, t *term.Term) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := t.Read(buf)
		if n > 0 {
			cp := append([]byte(nil), buf[:n]...)
			s.handlers().OnData(cp)
		}
		if err != nil {
			s.handlers().OnError(err)
			s.handlers().OnClose()
			return
		}
	}
}

func (s *Serial) handlers() Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

// Send KISS-frames one AX.25 frame and writes it to the port. If the
// port is currently down, up to one packet is buffered and flushed on
// the next successful Open.
func (s *Serial) Send(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()

	if port == nil {
		s.mu.Lock()
		s.pending = append([]byte(nil), data...)
		s.mu.Unlock()
		return nil
	}
	_, err := port.Write(kiss.Encode(0, data))
	if err != nil {
		s.handlers().OnError(err)
	}
	return err
}

func (s *Serial) Close() error {
	s.mu.Lock()
	s.closed = true
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
