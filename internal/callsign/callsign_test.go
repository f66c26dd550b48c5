package callsign_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/callsign"
)

func TestParse(t *testing.T) {
	c, err := callsign.Parse("wb2osz-15")
	require.NoError(t, err)
	assert.Equal(t, "WB2OSZ", c.Base)
	assert.Equal(t, uint8(15), c.SSID)
	assert.Equal(t, "WB2OSZ-15", c.String())
}

func TestParseNoSSID(t *testing.T) {
	c, err := callsign.Parse("N0CALL")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), c.SSID)
	assert.Equal(t, "N0CALL", c.String())
}

func TestParseRejectsBadSSID(t *testing.T) {
	_, err := callsign.Parse("N0CALL-16")
	assert.Error(t, err)

	_, err = callsign.Parse("N0CALL-x")
	assert.Error(t, err)
}

func TestParseRejectsTooLongBase(t *testing.T) {
	_, err := callsign.Parse("TOOLONGCALL")
	assert.Error(t, err)
}

func TestParseRejectsNonAlphanumeric(t *testing.T) {
	_, err := callsign.Parse("N0C@LL")
	assert.Error(t, err)
}

func TestEqualIgnoresAndRespectsSSID(t *testing.T) {
	a, _ := callsign.Parse("N0CALL-1")
	b, _ := callsign.Parse("N0CALL-2")
	c, _ := callsign.Parse("N0CALL-1")

	assert.True(t, a.EqualBase(b))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(c))
}
