package aprs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/aprs"
)

func TestEncodeParseMessageRoundTrip(t *testing.T) {
	raw := aprs.EncodeMessage("N0CALL-1", "hello there", "42")
	msg, err := aprs.ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "N0CALL-1", msg.Addressee)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "42", msg.ID)
	assert.False(t, msg.IsAck)
}

func TestEncodeParseMessageWithoutID(t *testing.T) {
	raw := aprs.EncodeMessage("N0CALL", "no id here", "")
	msg, err := aprs.ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "no id here", msg.Text)
	assert.Empty(t, msg.ID)
}

func TestEncodeParseAck(t *testing.T) {
	raw := aprs.EncodeAck("N0CALL", "17")
	msg, err := aprs.ParseMessage(raw)
	require.NoError(t, err)
	assert.True(t, msg.IsAck)
	assert.Equal(t, "17", msg.ID)
	assert.Equal(t, "N0CALL", msg.Addressee)
}

func TestEncodeBulletinPadsAddressee(t *testing.T) {
	raw := aprs.EncodeBulletin(1, "", "weather update")
	msg, err := aprs.ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "BLN1", msg.Addressee)
	assert.Equal(t, "weather update", msg.Text)
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	_, err := aprs.ParseMessage([]byte("not a message"))
	assert.Error(t, err)
}
