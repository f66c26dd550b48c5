package chat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/na7dx/packetnode/internal/chat"
)

func TestCreateJoinSendHistory(t *testing.T) {
	var events []chat.Event
	m := chat.NewManager(func(e chat.Event) { events = append(events, e) })

	require.True(t, m.CreateRoom("lobby"))
	require.NoError(t, m.JoinRoom("lobby", "kc1abc", ""))

	now := time.Now()
	_, err := m.SendMessage("lobby", "KC1ABC", "hello", now)
	require.NoError(t, err)

	hist := m.GetRoomHistory("lobby", 10)
	require.Len(t, hist, 1)
	assert.Equal(t, "hello", hist[0].Text)

	var kinds []chat.EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, chat.EventRoomCreated)
	assert.Contains(t, kinds, chat.EventUserJoined)
	assert.Contains(t, kinds, chat.EventMessageSent)
}

func TestRateLimitBlocksExcessMessages(t *testing.T) {
	m := chat.NewManager(nil)
	m.SetRateLimit(2)
	require.True(t, m.CreateRoom("lobby"))
	require.NoError(t, m.JoinRoom("lobby", "kc1abc", ""))

	now := time.Now()
	_, err := m.SendMessage("lobby", "KC1ABC", "one", now)
	require.NoError(t, err)
	_, err = m.SendMessage("lobby", "KC1ABC", "two", now)
	require.NoError(t, err)
	_, err = m.SendMessage("lobby", "KC1ABC", "three", now)
	assert.ErrorIs(t, err, chat.ErrRateLimited)
}

func TestRateLimitWindowResets(t *testing.T) {
	m := chat.NewManager(nil)
	m.SetRateLimit(1)
	require.True(t, m.CreateRoom("lobby"))

	now := time.Now()
	_, err := m.SendMessage("lobby", "KC1ABC", "one", now)
	require.NoError(t, err)
	_, err = m.SendMessage("lobby", "KC1ABC", "two", now.Add(chat.RateWindow+time.Second))
	assert.NoError(t, err)
}

func TestBannedUserCannotJoin(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoom("lobby"))
	require.NoError(t, m.JoinRoom("lobby", "kc1abc", ""))
	require.True(t, m.Ban("lobby", "", "kc1abc"))

	err := m.JoinRoom("lobby", "kc1abc", "")
	assert.Error(t, err)
}

func TestMutedUserCannotSend(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoom("lobby"))
	require.NoError(t, m.JoinRoom("lobby", "kc1abc", ""))
	require.True(t, m.Mute("lobby", "", "kc1abc"))

	_, err := m.SendMessage("lobby", "kc1abc", "hi", time.Now())
	assert.ErrorIs(t, err, chat.ErrMuted)

	require.True(t, m.Unmute("lobby", "", "kc1abc"))
	_, err = m.SendMessage("lobby", "kc1abc", "hi", time.Now())
	assert.NoError(t, err)
}

func TestHistoryBoundedToMaxEntries(t *testing.T) {
	m := chat.NewManager(nil)
	m.SetRateLimit(1000)
	require.True(t, m.CreateRoom("lobby"))

	now := time.Now()
	for i := 0; i < chat.DefaultMaxHistory+10; i++ {
		_, err := m.SendMessage("lobby", "kc1abc", "x", now)
		require.NoError(t, err)
	}
	assert.Len(t, m.GetRoomHistory("lobby", 0), chat.DefaultMaxHistory)
}

func TestSendPrivateEmitsEventNotHistory(t *testing.T) {
	var events []chat.Event
	m := chat.NewManager(func(e chat.Event) { events = append(events, e) })
	_, err := m.SendPrivate("kc1abc", "kc1xyz", "psst", time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventPrivateMessage, events[0].Kind)
}

func TestDeleteRoomRemovesStats(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoom("lobby"))
	require.True(t, m.DeleteRoom("lobby"))
	_, ok := m.GetStats("lobby")
	assert.False(t, ok)
}

func TestDeleteRoomRefusesPersistentRoom(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoomOpts("ops", chat.RoomOptions{Persistent: true, Public: true}))
	assert.False(t, m.DeleteRoom("ops"))
	_, ok := m.GetStats("ops")
	assert.True(t, ok)
}

func TestNonPersistentRoomAutoDeletedWhenEmpty(t *testing.T) {
	m := chat.NewManager(nil)
	require.NoError(t, m.JoinRoom("adhoc", "kc1abc", ""))
	m.LeaveRoom("adhoc", "kc1abc")

	_, ok := m.GetStats("adhoc")
	assert.False(t, ok)
	assert.Empty(t, m.ListRooms())
}

func TestPersistentRoomSurvivesEmptying(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoomOpts("ops", chat.RoomOptions{Persistent: true, Public: true}))
	require.NoError(t, m.JoinRoom("ops", "kc1abc", ""))
	m.LeaveRoom("ops", "kc1abc")

	_, ok := m.GetStats("ops")
	assert.True(t, ok)
}

func TestJoinRoomEnforcesPassword(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoomOpts("club", chat.RoomOptions{Password: "secret"}))

	assert.ErrorIs(t, m.JoinRoom("club", "kc1abc", "wrong"), chat.ErrBadPassword)
	assert.NoError(t, m.JoinRoom("club", "kc1abc", "secret"))
}

func TestJoinRoomEnforcesCapacity(t *testing.T) {
	m := chat.NewManager(nil)
	require.True(t, m.CreateRoomOpts("tiny", chat.RoomOptions{MaxUsers: 1}))

	require.NoError(t, m.JoinRoom("tiny", "kc1abc", ""))
	assert.ErrorIs(t, m.JoinRoom("tiny", "kc1xyz", ""), chat.ErrRoomFull)
	// Rejoining doesn't count against capacity.
	assert.NoError(t, m.JoinRoom("tiny", "kc1abc", ""))
}

func TestJoinRoomAutoLeavesCurrentRoom(t *testing.T) {
	m := chat.NewManager(nil)
	require.NoError(t, m.JoinRoom("a", "kc1abc", ""))
	require.NoError(t, m.JoinRoom("b", "kc1abc", ""))

	// Room a emptied out and was non-persistent, so it's gone.
	_, ok := m.GetStats("a")
	assert.False(t, ok)
	stats, ok := m.GetStats("b")
	require.True(t, ok)
	assert.Equal(t, 1, stats.MemberCount)
}

func TestModerationPermissions(t *testing.T) {
	m := chat.NewManager(nil)
	require.NoError(t, m.JoinRoom("lobby", "kc1abc", "")) // kc1abc becomes creator
	require.NoError(t, m.JoinRoom("lobby", "kc1xyz", ""))

	// A plain member cannot set the topic or ban.
	assert.False(t, m.SetTopic("lobby", "kc1xyz", "hijacked"))
	assert.False(t, m.Ban("lobby", "kc1xyz", "kc1abc"))

	// The creator can promote, and the new mod can then moderate.
	require.True(t, m.Mod("lobby", "kc1abc", "kc1xyz"))
	assert.True(t, m.SetTopic("lobby", "kc1xyz", "welcome"))

	stats, ok := m.GetStats("lobby")
	require.True(t, ok)
	assert.Equal(t, "welcome", stats.Topic)
	assert.Equal(t, "KC1ABC", stats.Creator)
}
