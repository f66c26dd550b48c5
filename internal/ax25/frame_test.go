package ax25_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
)

func mustCall(t *testing.T, s string) callsign.Callsign {
	t.Helper()
	c, err := callsign.Parse(s)
	require.NoError(t, err)
	return c
}

func TestUIFrameRoundTrip(t *testing.T) {
	dest := mustCall(t, "APRS")
	src := mustCall(t, "N0CALL-7")
	wide := mustCall(t, "WIDE2-2")

	f := ax25.NewUI(dest, src, []callsign.Callsign{wide}, 0xF0, []byte("Hello"))

	b, err := ax25.Build(f)
	require.NoError(t, err)

	parsed, err := ax25.Parse(b)
	require.NoError(t, err)

	assert.Equal(t, dest, parsed.Dest.Call)
	assert.True(t, parsed.Dest.CH, "dest C bit set for command frame")
	assert.Equal(t, src, parsed.Src.Call)
	assert.False(t, parsed.Src.CH)
	assert.Equal(t, ax25.UUI, parsed.Control.UT)
	assert.Equal(t, byte(0xF0), parsed.PID)
	assert.Equal(t, "Hello", string(parsed.Payload))
	require.Len(t, parsed.Digis, 1)
	assert.Equal(t, wide, parsed.Digis[0].Call)

	b2, err := ax25.Build(parsed)
	require.NoError(t, err)
	assert.Equal(t, b, b2, "build(parse(f)) must reproduce identical bytes")
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := ax25.Parse([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ax25.ErrTruncated)
}

func TestParseRejectsBadAddressChar(t *testing.T) {
	dest := mustCall(t, "APRS")
	src := mustCall(t, "N0CALL")
	f := ax25.NewUI(dest, src, nil, 0xF0, []byte("x"))
	b, err := ax25.Build(f)
	require.NoError(t, err)

	// Corrupt a destination byte so it unshifts to something illegal.
	b[0] = 0x01 // shifts to 0x00, not alnum

	_, err = ax25.Parse(b)
	assert.ErrorIs(t, err, ax25.ErrBadAddress)
}

func TestIFrameControlRoundTrip(t *testing.T) {
	f := ax25.Frame{
		Dest:    ax25.Address{Call: mustCall(t, "N0CALL"), CH: false},
		Src:     ax25.Address{Call: mustCall(t, "N1CALL"), CH: true},
		Control: ax25.Control{Kind: ax25.KindI, NS: 3, NR: 5, PF: true},
		PID:     0xF0,
		HasPID:  true,
		Payload: []byte("payload"),
	}

	b, err := ax25.Build(f)
	require.NoError(t, err)
	parsed, err := ax25.Parse(b)
	require.NoError(t, err)

	assert.Equal(t, ax25.KindI, parsed.Control.Kind)
	assert.Equal(t, uint8(3), parsed.Control.NS)
	assert.Equal(t, uint8(5), parsed.Control.NR)
	assert.True(t, parsed.Control.PF)
}

func TestSFrameSubtypes(t *testing.T) {
	for _, st := range []ax25.SSubtype{ax25.SRR, ax25.SRNR, ax25.REJ, ax25.SREJ} {
		f := ax25.Frame{
			Dest:    ax25.Address{Call: mustCall(t, "N0CALL")},
			Src:     ax25.Address{Call: mustCall(t, "N1CALL")},
			Control: ax25.Control{Kind: ax25.KindS, SSub: st, NR: 2},
		}
		b, err := ax25.Build(f)
		require.NoError(t, err)
		parsed, err := ax25.Parse(b)
		require.NoError(t, err)
		assert.Equal(t, ax25.KindS, parsed.Control.Kind)
		assert.Equal(t, st, parsed.Control.SSub)
		assert.Equal(t, uint8(2), parsed.Control.NR)
	}
}

func TestUFrameFixedEncodings(t *testing.T) {
	cases := []struct {
		ut   ax25.UType
		pf   bool
		want byte
	}{
		{ax25.USABM, false, 0x2F},
		{ax25.USABM, true, 0x3F},
		{ax25.UUA, false, 0x63},
		{ax25.UUA, true, 0x73},
		{ax25.UDISC, false, 0x43},
		{ax25.UDM, false, 0x0F},
		{ax25.UDM, true, 0x1F},
		{ax25.UUI, false, 0x03},
	}
	for _, tc := range cases {
		f := ax25.Frame{
			Dest:    ax25.Address{Call: mustCall(t, "N0CALL")},
			Src:     ax25.Address{Call: mustCall(t, "N1CALL")},
			Control: ax25.Control{Kind: ax25.KindU, UT: tc.ut, PF: tc.pf},
		}
		b, err := ax25.Build(f)
		require.NoError(t, err)
		// The control byte follows the two 7-byte addresses; a UI frame
		// also carries a PID byte after it.
		assert.Equal(t, tc.want, b[2*7])
	}
}

// TestBuildParseRoundTripProperty checks that Build(Parse(F)) == F for
// well-formed frames, across random address lists, control kinds, and
// payload sizes.
func TestBuildParseRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		destBase := rapid.StringMatching(`[A-Z0-9]{1,6}`).Draw(rt, "destBase")
		srcBase := rapid.StringMatching(`[A-Z0-9]{1,6}`).Draw(rt, "srcBase")
		ssid := rapid.IntRange(0, 15).Draw(rt, "ssid")

		dest := callsign.Callsign{Base: destBase, SSID: uint8(ssid)}
		src := callsign.Callsign{Base: srcBase, SSID: uint8(ssid % 7)}

		nDigis := rapid.IntRange(0, 8).Draw(rt, "nDigis")
		digis := make([]ax25.Address, nDigis)
		for i := range digis {
			b := rapid.StringMatching(`[A-Z0-9]{1,6}`).Draw(rt, "digiBase")
			digis[i] = ax25.Address{
				Call: callsign.Callsign{Base: b, SSID: uint8(i % 8)},
				CH:   rapid.Bool().Draw(rt, "ch"),
			}
		}

		payloadLen := rapid.IntRange(0, 40).Draw(rt, "payloadLen")
		payload := make([]byte, payloadLen)
		for i := range payload {
			payload[i] = byte(rapid.IntRange(0, 255).Draw(rt, "byte"))
		}

		f := ax25.Frame{
			Dest:    ax25.Address{Call: dest, CH: true},
			Src:     ax25.Address{Call: src, CH: false},
			Digis:   digis,
			Control: ax25.Control{Kind: ax25.KindU, UT: ax25.UUI},
			PID:     0xF0,
			HasPID:  true,
			Payload: payload,
		}

		b, err := ax25.Build(f)
		require.NoError(rt, err)
		parsed, err := ax25.Parse(b)
		require.NoError(rt, err)
		b2, err := ax25.Build(parsed)
		require.NoError(rt, err)
		assert.Equal(rt, b, b2)
	})
}
