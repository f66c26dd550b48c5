package channel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/channel"
)

func TestMockLoopback(t *testing.T) {
	m := channel.NewMock()
	m.Loopback = true

	var received []byte
	m.SetHandlers(channel.Handlers{
		OnData: func(data []byte) { received = data },
	})

	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.Send([]byte("hi")))
	assert.Equal(t, []byte("hi"), received)
	assert.Equal(t, [][]byte{[]byte("hi")}, m.Sent())
}

func TestMockSendFailsWhenClosed(t *testing.T) {
	m := channel.NewMock()
	err := m.Send([]byte("x"))
	assert.Error(t, err)
}

func TestMockInject(t *testing.T) {
	m := channel.NewMock()
	var got []byte
	m.SetHandlers(channel.Handlers{OnData: func(d []byte) { got = d }})
	require.NoError(t, m.Open(context.Background()))

	m.Inject([]byte("from-radio"))
	assert.Equal(t, []byte("from-radio"), got)
}
