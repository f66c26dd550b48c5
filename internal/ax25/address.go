package ax25

import (
	"fmt"

	"github.com/na7dx/packetnode/internal/callsign"
)

// addrWireLen is the fixed wire size of one AX.25 address field.
const addrWireLen = 7

// Address is one entry in an AX.25 frame's address list: the destination,
// the source, or one of up to 8 digipeater (repeater) slots.
//
// CH carries different meaning depending on position: for the destination
// and source addresses it is the command/response (C) bit; for a
// digipeater address it is the has-been-repeated (H) bit.
type Address struct {
	Call callsign.Callsign
	CH   bool
}

// decodeAddress unpacks one 7-byte AX.25 address field.
func decodeAddress(b []byte) (addr Address, ea bool, err error) {
	if len(b) < addrWireLen {
		return Address{}, false, fmt.Errorf("ax25: address field needs %d bytes, got %d", addrWireLen, len(b))
	}

	var base [6]byte
	for i := 0; i < 6; i++ {
		base[i] = b[i] >> 1
	}

	// Trim trailing padding spaces, then validate what remains.
	n := 6
	for n > 0 && base[n-1] == ' ' {
		n--
	}
	if n == 0 {
		return Address{}, false, fmt.Errorf("ax25: empty callsign in address field")
	}
	for i := 0; i < n; i++ {
		c := base[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return Address{}, false, fmt.Errorf("ax25: bad address byte %q after unshifting", c)
		}
	}

	ssidByte := b[7-1]
	ssid := (ssidByte >> 1) & 0x0F
	ch := ssidByte&0x80 != 0
	ea = ssidByte&0x01 != 0

	return Address{
		Call: callsign.Callsign{Base: string(base[:n]), SSID: ssid},
		CH:   ch,
	}, ea, nil
}

// encodeAddress packs one address into its 7-byte wire form. last marks
// this as the final address in the list (sets EA).
func encodeAddress(a Address, last bool) []byte {
	out := make([]byte, addrWireLen)

	base := a.Call.Base
	for i := 0; i < 6; i++ {
		var c byte = ' '
		if i < len(base) {
			c = base[i]
		}
		out[i] = c << 1
	}

	var ssidByte byte = 0b0110_0000 // reserved bits per AX.25 convention
	if a.CH {
		ssidByte |= 0x80
	}
	ssidByte |= (a.Call.SSID & 0x0F) << 1
	if last {
		ssidByte |= 0x01
	}
	out[6] = ssidByte

	return out
}
