package node_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/ax25"
	"github.com/na7dx/packetnode/internal/callsign"
	"github.com/na7dx/packetnode/internal/channel"
	"github.com/na7dx/packetnode/internal/kiss"
	"github.com/na7dx/packetnode/internal/node"
)

func mustCall(t *testing.T, s string) callsign.Callsign {
	t.Helper()
	c, err := callsign.Parse(s)
	require.NoError(t, err)
	return c
}

func newManager(t *testing.T) *node.Manager {
	t.Helper()
	return node.NewManager(nil, prometheus.NewRegistry())
}

func addMockChannel(t *testing.T, m *node.Manager, cfg node.ChannelConfig) *channel.Mock {
	t.Helper()
	mock := channel.NewMock()
	require.NoError(t, m.AddChannel(context.Background(), cfg, mock))
	return mock
}

func kissFrame(t *testing.T, dest, src string, path []string, payload string) []byte {
	t.Helper()
	var digis []callsign.Callsign
	for _, p := range path {
		digis = append(digis, mustCall(t, p))
	}
	f := ax25.NewUI(mustCall(t, dest), mustCall(t, src), digis, 0xF0, []byte(payload))
	b, err := ax25.Build(f)
	require.NoError(t, err)
	return kiss.Encode(0, b)
}

func TestReceivePipelineEmitsFrameAndDropsDuplicates(t *testing.T) {
	m := newManager(t)
	var frames []node.FrameEvent
	m.SetHandlers(node.Handlers{OnFrame: func(e node.FrameEvent) { frames = append(frames, e) }})

	mock := addMockChannel(t, m, node.ChannelConfig{ID: "radio0", Role: node.RoleWide, MaxWideN: 2})

	raw := kissFrame(t, "APRS", "N0CALL", nil, "hello")
	mock.Inject(raw)
	mock.Inject(raw) // duplicate

	require.Len(t, frames, 1)
	assert.Equal(t, "N0CALL", frames[0].Parsed.Src.Call.Base)

	snap := m.GetMetrics("radio0")
	assert.Equal(t, float64(1), snap.Rx)
	assert.Equal(t, float64(1), snap.DedupDrop)
}

func TestFanOutServicesWideAndForwards(t *testing.T) {
	m := newManager(t)
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0", Role: node.RoleWide, MaxWideN: 2})
	radio1 := addMockChannel(t, m, node.ChannelConfig{ID: "radio1", Role: node.RoleWide, MaxWideN: 2, MyCall: mustCall(t, "N0CALL-1")})
	m.AddRoute("radio0", "radio1")

	raw := kissFrame(t, "APRS", "N1CALL", []string{"WIDE2-2"}, "hi")
	radio0.Inject(raw)

	require.Len(t, radio1.Sent(), 1)
	out, err := ax25.Parse(radio1.Sent()[0])
	require.NoError(t, err)
	require.Len(t, out.Digis, 1)
	assert.Equal(t, "WIDE2", out.Digis[0].Call.Base)
	assert.Equal(t, uint8(1), out.Digis[0].Call.SSID)
	assert.False(t, out.Digis[0].CH)

	snap := m.GetMetrics("radio1")
	assert.Equal(t, float64(1), snap.Digipeats)
}

func TestFillInChannelBlocksWideTwo(t *testing.T) {
	m := newManager(t)
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0", Role: node.RoleWide, MaxWideN: 2})
	fillin := addMockChannel(t, m, node.ChannelConfig{ID: "fillin", Role: node.RoleFillIn, MaxWideN: 1})
	m.AddRoute("radio0", "fillin")

	raw := kissFrame(t, "APRS", "N1CALL", []string{"WIDE2-2"}, "hi")
	radio0.Inject(raw)

	assert.Empty(t, fillin.Sent())
	snap := m.GetMetrics("fillin")
	assert.Equal(t, float64(1), snap.FillInBlocked)
	assert.Equal(t, float64(0), snap.MaxWideBlocked)
}

func TestMaxWideNGuardrailBlocks(t *testing.T) {
	m := newManager(t)
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0", Role: node.RoleWide, MaxWideN: 2})
	radio1 := addMockChannel(t, m, node.ChannelConfig{ID: "radio1", Role: node.RoleWide, MaxWideN: 1})
	m.AddRoute("radio0", "radio1")

	raw := kissFrame(t, "APRS", "N1CALL", []string{"WIDE2-2"}, "hi")
	radio0.Inject(raw)

	assert.Empty(t, radio1.Sent())
	snap := m.GetMetrics("radio1")
	assert.Equal(t, float64(1), snap.MaxWideBlocked)
}

func TestFullyRepeatedPathBlocksForward(t *testing.T) {
	m := newManager(t)
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0", Role: node.RoleWide, MaxWideN: 2})
	radio1 := addMockChannel(t, m, node.ChannelConfig{ID: "radio1", Role: node.RoleWide, MaxWideN: 2})
	m.AddRoute("radio0", "radio1")

	digi := mustCall(t, "WIDE1-1")
	f := ax25.NewUI(mustCall(t, "APRS"), mustCall(t, "N1CALL"), []callsign.Callsign{digi}, 0xF0, []byte("hi"))
	f.Digis[0].CH = true
	b, err := ax25.Build(f)
	require.NoError(t, err)
	radio0.Inject(kiss.Encode(0, b))

	assert.Empty(t, radio1.Sent())
	snap := m.GetMetrics("radio1")
	assert.Equal(t, float64(1), snap.ServicedWideBlocked)
}

func TestIGateRouteEmitsWithoutForwarding(t *testing.T) {
	m := newManager(t)
	var igateEvents []node.IGateEvent
	m.SetHandlers(node.Handlers{OnIGate: func(e node.IGateEvent) { igateEvents = append(igateEvents, e) }})
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0"})
	m.AddRoute("radio0", node.IGate)

	radio0.Inject(kissFrame(t, "APRS", "N1CALL", nil, "hi"))

	require.Len(t, igateEvents, 1)
	assert.Equal(t, "radio0", igateEvents[0].Channel)
}

func TestAppendDigiCallsignInsertsOwnCallOnExplicitMatch(t *testing.T) {
	m := newManager(t)
	radio0 := addMockChannel(t, m, node.ChannelConfig{ID: "radio0"})
	radio1 := addMockChannel(t, m, node.ChannelConfig{
		ID:                 "radio1",
		DigiCallsigns:      []callsign.Callsign{mustCall(t, "KC1ABC-1")},
		AppendDigiCallsign: true,
		MyCall:             mustCall(t, "N0CALL-1"),
	})
	m.AddRoute("radio0", "radio1")

	radio0.Inject(kissFrame(t, "APRS", "N1CALL", []string{"KC1ABC-1"}, "hi"))

	require.Len(t, radio1.Sent(), 1)
	out, err := ax25.Parse(radio1.Sent()[0])
	require.NoError(t, err)
	require.Len(t, out.Digis, 2)
	assert.Equal(t, "N0CALL", out.Digis[0].Call.Base)
	assert.True(t, out.Digis[0].CH)
	assert.True(t, out.Digis[1].CH)
}

func TestSendFrameReturnsFalseForUnknownChannel(t *testing.T) {
	m := newManager(t)
	assert.False(t, m.SendFrame("nope", []byte("x")))
}

func TestRemoveChannelDropsItsRoutes(t *testing.T) {
	m := newManager(t)
	addMockChannel(t, m, node.ChannelConfig{ID: "radio0"})
	addMockChannel(t, m, node.ChannelConfig{ID: "radio1"})
	m.AddRoute("radio0", "radio1")

	assert.True(t, m.RemoveChannel("radio1"))
	assert.False(t, m.RemoveRoute("radio0", "radio1"))
}
