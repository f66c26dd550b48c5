// Package ax25 implements the AX.25 link-layer address field, control
// byte, and path-servicing logic used by the packet node's digipeater and
// connected-mode session layer.
package ax25

import (
	"errors"
	"fmt"

	"github.com/na7dx/packetnode/internal/callsign"
)

// ErrTruncated is returned when the address list runs past the end of
// the buffer before an EA-terminated address is found.
var ErrTruncated = errors.New("ax25: truncated frame")

// ErrBadAddress is returned when an address byte doesn't unshift to a
// legal callsign character.
var ErrBadAddress = errors.New("ax25: malformed address")

const (
	maxAddresses = 10 // dest + src + up to 8 digipeaters
	maxDigis     = 8
)

// Frame is a decoded AX.25 frame: an ordered address list, a control
// field, and (for I/UI frames) a PID and payload.
type Frame struct {
	Dest    Address
	Src     Address
	Digis   []Address // 0..8 repeater addresses, in path order
	Control Control
	PID     uint8
	HasPID  bool
	Payload []byte
}

// Command reports whether this is a command frame (dest C=1, src C=0) as
// opposed to a response frame (the reverse).
func (f Frame) Command() bool {
	return f.Dest.CH
}

// Parse decodes raw AX.25 bytes (post-KISS-unwrap) into a Frame.
func Parse(b []byte) (Frame, error) {
	var addrs []Address
	off := 0

	for {
		if len(addrs) >= maxAddresses {
			return Frame{}, fmt.Errorf("%w: more than %d addresses", ErrTruncated, maxAddresses)
		}
		if off+addrWireLen > len(b) {
			return Frame{}, fmt.Errorf("%w: address list runs past end of buffer", ErrTruncated)
		}
		addr, ea, err := decodeAddress(b[off : off+addrWireLen])
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
		}
		addrs = append(addrs, addr)
		off += addrWireLen
		if ea {
			break
		}
	}

	if len(addrs) < 2 {
		return Frame{}, fmt.Errorf("%w: need at least dest and src", ErrTruncated)
	}

	if off >= len(b) {
		return Frame{}, fmt.Errorf("%w: missing control byte", ErrTruncated)
	}
	ctrl := decodeControl(b[off])
	off++

	var pid uint8
	hasPID := ctrl.hasPID()
	if hasPID {
		if off >= len(b) {
			return Frame{}, fmt.Errorf("%w: missing PID byte", ErrTruncated)
		}
		pid = b[off]
		off++
	}

	payload := append([]byte(nil), b[off:]...)

	f := Frame{
		Dest:    addrs[0],
		Src:     addrs[1],
		Control: ctrl,
		PID:     pid,
		HasPID:  hasPID,
		Payload: payload,
	}
	if len(addrs) > 2 {
		f.Digis = append([]Address(nil), addrs[2:]...)
	}
	return f, nil
}

// Build renders a Frame to its wire bytes. It is the deterministic
// inverse of Parse: EA is set only on the last address, and each
// address's C/H bit is written exactly as its CH field holds it (a
// command frame carries Dest.CH set and Src.CH clear, a response the
// reverse); Build does not derive or correct those bits. Build does not
// mutate f.
func Build(f Frame) ([]byte, error) {
	if len(f.Digis) > maxDigis {
		return nil, fmt.Errorf("ax25: too many digipeater addresses: %d > %d", len(f.Digis), maxDigis)
	}

	addrs := make([]Address, 0, 2+len(f.Digis))
	addrs = append(addrs, f.Dest, f.Src)
	addrs = append(addrs, f.Digis...)

	out := make([]byte, 0, len(addrs)*addrWireLen+2+len(f.Payload))
	for i, a := range addrs {
		out = append(out, encodeAddress(a, i == len(addrs)-1)...)
	}

	out = append(out, encodeControl(f.Control))
	if f.Control.hasPID() {
		out = append(out, f.PID)
	}
	out = append(out, f.Payload...)

	return out, nil
}

// NewUI builds a command UI frame (the connectionless carrier used by
// APRS) addressed from src to dest via the given digipeater path.
func NewUI(dest, src callsign.Callsign, path []callsign.Callsign, pid uint8, payload []byte) Frame {
	digis := make([]Address, len(path))
	for i, c := range path {
		digis[i] = Address{Call: c}
	}
	return Frame{
		Dest:    Address{Call: dest, CH: true},
		Src:     Address{Call: src, CH: false},
		Digis:   digis,
		Control: Control{Kind: KindU, UT: UUI},
		PID:     pid,
		HasPID:  true,
		Payload: payload,
	}
}
