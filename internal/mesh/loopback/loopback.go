// Package loopback is a dependency-free mesh.Transport that delivers
// every broadcast and send back to its own handlers, for tests and for
// single-node deployments with no real mesh link configured.
package loopback

import (
	"sync"

	"github.com/na7dx/packetnode/internal/mesh"
)

// Transport loops every outbound packet straight back to its own
// registered handlers.
type Transport struct {
	mu        sync.Mutex
	dataH     []mesh.DataHandler
	neighborH []mesh.NeighborHandler
}

// New returns an empty loopback Transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Broadcast(pkt mesh.Packet) error {
	t.mu.Lock()
	handlers := append([]mesh.DataHandler(nil), t.dataH...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(pkt)
	}
	return nil
}

func (t *Transport) Send(_ string, data []byte, opts mesh.SendOptions) error {
	return t.Broadcast(mesh.Packet{Kind: "unicast", Data: data, Priority: opts.Priority})
}

func (t *Transport) OnData(h mesh.DataHandler) {
	t.mu.Lock()
	t.dataH = append(t.dataH, h)
	t.mu.Unlock()
}

func (t *Transport) OnNeighborUpdate(h mesh.NeighborHandler) {
	t.mu.Lock()
	t.neighborH = append(t.neighborH, h)
	t.mu.Unlock()
}

// SimulateNeighbor lets tests drive a neighbor-update event.
func (t *Transport) SimulateNeighbor(callsign string, info mesh.NeighborInfo) {
	t.mu.Lock()
	handlers := append([]mesh.NeighborHandler(nil), t.neighborH...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(callsign, info)
	}
}
