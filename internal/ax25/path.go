package ax25

import (
	"regexp"
	"strconv"

	"github.com/na7dx/packetnode/internal/callsign"
)

var wideRe = regexp.MustCompile(`^WIDE([1-7])$`)

// WideN reports whether a digipeater address base is a WIDEn-N path
// element (e.g. WIDE2-2) and, if so, returns its remaining-hop count (the
// SSID) and the declared width n.
func WideN(a Address) (remaining, width int, ok bool) {
	m := wideRe.FindStringSubmatch(a.Call.Base)
	if m == nil {
		return 0, 0, false
	}
	width, _ = strconv.Atoi(m[1])
	return int(a.Call.SSID), width, true
}

// FirstUnrepeated returns the index into f.Digis of the first digipeater
// address with H=0, or -1 if every digi has already been repeated (or
// there are none).
func FirstUnrepeated(f Frame) int {
	for i, d := range f.Digis {
		if !d.CH {
			return i
		}
	}
	return -1
}

// FullyRepeated reports whether every digipeater address in the path has
// H=1 (or the path is empty).
func FullyRepeated(f Frame) bool {
	return FirstUnrepeated(f) == -1
}

// cloneDigis returns an independent copy of f.Digis so servicing never
// mutates the caller's frame.
func cloneDigis(f Frame) []Address {
	return append([]Address(nil), f.Digis...)
}

// ServiceExplicit marks the first unrepeated digipeater address as
// repeated if its callsign (base+SSID) equals one of match. It leaves the
// callsign itself unchanged: explicit paths name a station, not a role.
// It is idempotent: calling it again when no slot matches is a no-op.
func ServiceExplicit(f Frame, match []callsign.Callsign) (Frame, bool) {
	idx := FirstUnrepeated(f)
	if idx < 0 {
		return f, false
	}
	for _, m := range match {
		if f.Digis[idx].Call.Equal(m) {
			out := f
			out.Digis = cloneDigis(f)
			out.Digis[idx].CH = true
			return out, true
		}
	}
	return f, false
}

// ServiceWide decrements the first unrepeated WIDEn-N digipeater address
// in the path. When the remaining-hop count reaches zero, the H bit is
// set (fully repeated); otherwise the slot is left unrepeated with its
// SSID decremented in place. It is idempotent: a path with no WIDEn-N
// slot left to service is returned unchanged.
func ServiceWide(f Frame) (Frame, bool) {
	idx := FirstUnrepeated(f)
	if idx < 0 {
		return f, false
	}
	remaining, _, ok := WideN(f.Digis[idx])
	if !ok || remaining < 1 {
		return f, false
	}

	out := f
	out.Digis = cloneDigis(f)
	remaining--
	out.Digis[idx].Call.SSID = uint8(remaining)
	if remaining == 0 {
		out.Digis[idx].CH = true
	}
	return out, true
}

// Service tries an explicit match first, then falls back to WIDEn-N
// servicing. It reports whether either rule fired.
func Service(f Frame, explicitMatch []callsign.Callsign) (Frame, bool) {
	if out, ok := ServiceExplicit(f, explicitMatch); ok {
		return out, true
	}
	return ServiceWide(f)
}

// InsertRepeatedDigi inserts call as an already-repeated (H=1) digipeater
// address immediately before index at, shifting later digis right. Used
// when a channel is configured to identify itself in the path it just
// serviced via an explicit callsign slot. at must be a valid index into
// f.Digis; InsertRepeatedDigi silently clamps out-of-range values.
func InsertRepeatedDigi(f Frame, at int, call callsign.Callsign) Frame {
	if at < 0 {
		at = 0
	}
	if at > len(f.Digis) {
		at = len(f.Digis)
	}
	out := f
	digis := make([]Address, 0, len(f.Digis)+1)
	digis = append(digis, f.Digis[:at]...)
	digis = append(digis, Address{Call: call, CH: true})
	digis = append(digis, f.Digis[at:]...)
	out.Digis = digis
	return out
}
