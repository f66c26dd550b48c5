package channel

import (
	"context"
	"sync"
)

// Mock is an in-process adapter used in tests: it records everything
// sent to it and, when Loopback is set, echoes it back as received data.
type Mock struct {
	mu       sync.Mutex
	h        Handlers
	open     bool
	sent     [][]byte
	Loopback bool // when true, Send echoes back through OnData
}

// NewMock returns a Mock adapter. By default it does not loop data back;
// set Loopback to true for tests that exercise the receive path.
func NewMock() *Mock {
	return &Mock{h: noopHandlers()}
}

func (m *Mock) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = fillHandlers(h)
}

func (m *Mock) Open(ctx context.Context) error {
	m.mu.Lock()
	m.open = true
	h := m.h
	m.mu.Unlock()
	h.OnOpen()
	return nil
}

func (m *Mock) Send(data []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return errClosed
	}
	cp := append([]byte(nil), data...)
	m.sent = append(m.sent, cp)
	loop := m.Loopback
	h := m.h
	m.mu.Unlock()

	if loop {
		h.OnData(cp)
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.open = false
	h := m.h
	m.mu.Unlock()
	h.OnClose()
	return nil
}

// Sent returns every payload handed to Send, in order. Test helper.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

// Inject simulates inbound bytes arriving on the link, as if from a real
// radio or peer. Test helper.
func (m *Mock) Inject(data []byte) {
	m.mu.Lock()
	h := m.h
	m.mu.Unlock()
	h.OnData(data)
}

var errClosed = &adapterError{"channel: adapter is closed"}

type adapterError struct{ msg string }

func (e *adapterError) Error() string { return e.msg }
