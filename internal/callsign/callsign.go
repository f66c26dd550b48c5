// Package callsign implements the amateur-radio station identifier used
// throughout the packet node: a 1-6 character alphanumeric base plus an
// SSID in 0..15.
package callsign

import (
	"fmt"
	"strconv"
	"strings"
)

// Callsign is a base callsign with an optional secondary station
// identifier. The zero value is not a valid callsign.
type Callsign struct {
	Base string
	SSID uint8
}

// Parse accepts "BASE" or "BASE-SSID", upper-cases the base, and
// validates that it is 1-6 alphanumerics and the SSID is in 0..15.
func Parse(s string) (Callsign, error) {
	s = strings.TrimSpace(s)
	base, ssidStr, hasSSID := strings.Cut(s, "-")
	base = strings.ToUpper(base)

	if len(base) == 0 || len(base) > 6 {
		return Callsign{}, fmt.Errorf("callsign: base %q must be 1-6 characters", base)
	}
	for _, r := range base {
		if !isAlphaNum(r) {
			return Callsign{}, fmt.Errorf("callsign: base %q has non-alphanumeric character %q", base, r)
		}
	}

	var ssid uint64
	if hasSSID {
		var err error
		ssid, err = strconv.ParseUint(ssidStr, 10, 8)
		if err != nil || ssid > 15 {
			return Callsign{}, fmt.Errorf("callsign: SSID %q must be 0..15", ssidStr)
		}
	}

	return Callsign{Base: base, SSID: uint8(ssid)}, nil
}

func isAlphaNum(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// String renders the textual form: "BASE" when SSID is zero, else
// "BASE-SSID".
func (c Callsign) String() string {
	if c.SSID == 0 {
		return c.Base
	}
	return fmt.Sprintf("%s-%d", c.Base, c.SSID)
}

// Equal compares base and SSID.
func (c Callsign) Equal(o Callsign) bool {
	return c.Base == o.Base && c.SSID == o.SSID
}

// EqualBase compares only the base, ignoring SSID. Used for BBS
// personal-message lookup across all SSIDs of one operator.
func (c Callsign) EqualBase(o Callsign) bool {
	return c.Base == o.Base
}

// IsZero reports whether c is the unset zero value.
func (c Callsign) IsZero() bool {
	return c.Base == ""
}
