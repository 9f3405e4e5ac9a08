package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	router   *Router
	registry *Registry
	store    *database.MemoryStore
	alice    *fakeConn
	bob1     *fakeConn
	bob2     *fakeConn
}

func newRouterFixture(t *testing.T, opts ...RouterOption) *routerFixture {
	store := database.NewMemoryStore(
		database.Account{Username: "alice", Nickname: "Alice", Active: true},
		database.Account{Username: "bob", Nickname: "Bobby", Active: true},
		database.Account{Username: "carol", Nickname: "Carol"},
		database.Account{Username: "dave", Nickname: "Dave", Blocked: true},
		database.Account{Username: "erin"},
	)
	registry := NewRegistry()
	f := &routerFixture{
		registry: registry,
		store:    store,
		alice:    &fakeConn{name: "alice"},
		bob1:     &fakeConn{name: "bob-1"},
		bob2:     &fakeConn{name: "bob-2"},
	}
	registry.AddConnection("alice", f.alice)
	registry.AddConnection("bob", f.bob1)
	registry.AddConnection("bob", f.bob2)

	f.router = NewRouter(registry, store, store, stats.NopStats{}, testutil.TestLogger(t), opts...)
	return f
}

func (f *routerFixture) storedMessages(t *testing.T) []database.Message {
	msgs, err := f.store.ListMessages(context.Background(), database.MessageFilter{})
	require.NoError(t, err)
	return msgs
}

func decodeMessage(t *testing.T, frame string) types.Message {
	var msg types.Message
	require.NoError(t, json.Unmarshal([]byte(frame), &msg), "expected frame to be a JSON message: %s", frame)
	return msg
}

func assertKind(t *testing.T, err error, expected ErrorKind) {
	t.Helper()
	kind, ok := KindOf(err)
	require.True(t, ok, "expected a routing error, got %v", err)
	assert.Equal(t, expected, kind)
}

func TestRouter_DirectMessageToMultipleDevices(t *testing.T) {
	f := newRouterFixture(t)

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"bob","text":"hi"}`))
	require.NoError(t, err)

	for _, conn := range []*fakeConn{f.bob1, f.bob2} {
		frames := conn.Frames()
		require.Len(t, frames, 1, "expected %s to receive the message", conn.name)
		msg := decodeMessage(t, frames[0])
		assert.Equal(t, "alice", msg.From)
		assert.Equal(t, "bob", msg.To)
		assert.Equal(t, "hi", msg.Text)
		assert.False(t, msg.ReadByRecipient)
		assert.NotZero(t, msg.Id, "expected the stored id to be delivered")
	}
	assert.Empty(t, f.alice.Frames(), "expected the sender to receive nothing")

	stored := f.storedMessages(t)
	require.Len(t, stored, 1)
	assert.Equal(t, decodeMessage(t, f.bob1.Frames()[0]).Id, stored[0].Id, "expected delivered id to match the stored record")
}

func TestRouter_Broadcast(t *testing.T) {
	tcases := []struct {
		name  string
		frame string
	}{
		{name: "no recipient", frame: `{"text":"hi all"}`},
		{name: "all sentinel", frame: `{"to":"all","text":"hi all"}`},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t)

			err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(tc.frame))
			require.NoError(t, err)

			for _, conn := range []*fakeConn{f.alice, f.bob1, f.bob2} {
				frames := conn.Frames()
				require.Len(t, frames, 1, "expected %s to receive the broadcast", conn.name)
				msg := decodeMessage(t, frames[0])
				assert.Equal(t, "alice", msg.From)
				assert.Equal(t, "hi all", msg.Text)
			}
			assert.Len(t, f.storedMessages(t), 1)
		})
	}
}

func TestRouter_MalformedMessage(t *testing.T) {
	f := newRouterFixture(t)

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`not json`))
	assertKind(t, err, MalformedMessage)

	assert.Equal(t, []string{malformedNotice}, f.alice.Frames())
	assert.Empty(t, f.bob1.Frames())
	assert.Empty(t, f.storedMessages(t), "expected nothing to be persisted")
}

func TestRouter_MissingText(t *testing.T) {
	for _, frame := range []string{`{"to":"bob"}`, `{"to":"bob","text":""}`, `null`} {
		t.Run(frame, func(t *testing.T) {
			f := newRouterFixture(t)

			err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(frame))
			assertKind(t, err, MissingText)

			assert.Equal(t, []string{missingTextNotice}, f.alice.Frames(), "expected exactly one missing-text notice")
			assert.Empty(t, f.bob1.Frames())
			assert.Empty(t, f.storedMessages(t), "expected nothing to be persisted")
		})
	}
}

func TestRouter_BlockedRecipient(t *testing.T) {
	f := newRouterFixture(t)
	dave := &fakeConn{name: "dave"}
	f.registry.AddConnection("dave", dave)

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"dave","text":"hi"}`))
	assertKind(t, err, BlockedRecipient)

	assert.Equal(t, []string{"Dave is blocked"}, f.alice.Frames(), "expected exactly one blocked notice")
	assert.Empty(t, dave.Frames(), "expected nothing delivered to a blocked account")
	assert.Len(t, f.storedMessages(t), 1, "expected the message to be persisted anyway")
}

func TestRouter_BlockedRecipientWithoutNickname(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.store.SetBlocked(context.Background(), "erin", true))

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"erin","text":"hi"}`))
	assertKind(t, err, BlockedRecipient)
	assert.Equal(t, []string{"erin is blocked"}, f.alice.Frames(), "expected the username when no nickname is set")
}

func TestRouter_RecipientWithoutConnections(t *testing.T) {
	tcases := []struct {
		name string
		to   string
	}{
		{name: "account exists", to: "carol"},
		{name: "no account", to: "zed"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t)

			err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"`+tc.to+`","text":"hi"}`))
			assertKind(t, err, UnknownOrOfflineRecipient)

			assert.Equal(t, []string{tc.to + " contact doesn't exist"}, f.alice.Frames())
			assert.Empty(t, f.bob1.Frames())
			assert.Len(t, f.storedMessages(t), 1, "expected the message to be persisted")
		})
	}
}

func TestRouter_RejectInactive(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		f := newRouterFixture(t, WithRejectInactive(true))
		carol := &fakeConn{name: "carol"}
		f.registry.AddConnection("carol", carol)

		err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"carol","text":"hi"}`))
		assertKind(t, err, InactiveRecipient)
		assert.Equal(t, []string{"Carol is inactive"}, f.alice.Frames())
		assert.Empty(t, carol.Frames())
	})

	t.Run("disabled", func(t *testing.T) {
		f := newRouterFixture(t)
		carol := &fakeConn{name: "carol"}
		f.registry.AddConnection("carol", carol)

		err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"carol","text":"hi"}`))
		require.NoError(t, err)
		assert.Len(t, carol.Frames(), 1, "expected delivery when inactive gating is off")
	})
}

func TestRouter_DateTime(t *testing.T) {
	f := newRouterFixture(t)

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"bob","text":"hi","dateTime":"2024-05-01T12:00:00Z"}`))
	require.NoError(t, err)
	msg := decodeMessage(t, f.bob1.Frames()[0])
	assert.True(t, msg.DateTime.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)), "expected the supplied timestamp")

	err = f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"bob","text":"epoch","dateTime":1714564800000}`))
	require.NoError(t, err, "expected epoch milliseconds to be accepted")
	msg = decodeMessage(t, f.bob1.Frames()[1])
	assert.True(t, msg.DateTime.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)), "expected epoch milliseconds to be converted")

	before := time.Now().Add(-time.Second)
	err = f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"bob","text":"again"}`))
	require.NoError(t, err)
	msg = decodeMessage(t, f.bob1.Frames()[2])
	assert.True(t, msg.DateTime.After(before), "expected a missing timestamp to default to receive time")
}

func TestRouter_PersistenceFailure(t *testing.T) {
	registry := NewRegistry()
	alice, bob := &fakeConn{name: "alice"}, &fakeConn{name: "bob"}
	registry.AddConnection("alice", alice)
	registry.AddConnection("bob", bob)

	messages := &database.MockMessageStore{}
	messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m database.Message) bool {
		return m.From == "alice" && m.To == "bob" && m.Text == "hi" && !m.ReadByRecipient
	})).Return(database.Message{}, errors.New("db down")).Once()
	defer messages.AssertExpectations(t)

	accounts := &database.MockAccountDirectory{}
	defer accounts.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumRoutingErrors).Once()
	defer su.AssertExpectations(t)

	r := NewRouter(registry, messages, accounts, su, testutil.TestLogger(t))
	err := r.HandleFrame(context.Background(), "alice", alice, []byte(`{"to":"bob","text":"hi"}`))
	assertKind(t, err, PersistenceFailure)

	assert.Equal(t, []string{persistenceNotice}, alice.Frames(), "expected a generic failure notice")
	assert.Empty(t, bob.Frames())
	assert.False(t, alice.IsClosed(), "expected the connection to stay open")
}

func TestRouter_DirectoryFailure(t *testing.T) {
	registry := NewRegistry()
	alice, bob := &fakeConn{name: "alice"}, &fakeConn{name: "bob"}
	registry.AddConnection("alice", alice)
	registry.AddConnection("bob", bob)

	store := database.NewMemoryStore()
	accounts := &database.MockAccountDirectory{}
	accounts.On("GetAccount", mock.Anything, "bob").Return(database.Account{}, errors.New("timeout")).Once()
	defer accounts.AssertExpectations(t)

	r := NewRouter(registry, store, accounts, stats.NopStats{}, testutil.TestLogger(t))
	err := r.HandleFrame(context.Background(), "alice", alice, []byte(`{"to":"bob","text":"hi"}`))
	assertKind(t, err, DirectoryFailure)

	assert.Equal(t, []string{deliveryFailureNotice}, alice.Frames())
	assert.Empty(t, bob.Frames())
}

func TestRouter_ClosedRecipientIsIgnored(t *testing.T) {
	f := newRouterFixture(t)
	f.bob1.Close()

	err := f.router.HandleFrame(context.Background(), "alice", f.alice, []byte(`{"to":"bob","text":"hi"}`))
	assert.NoError(t, err, "expected a failed send to a closed connection to be swallowed")
	assert.Len(t, f.bob2.Frames(), 1)
}

func TestRouter_Stats(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.NumMessagesRouted).Once()
	su.On("Incr", stats.NumRoutingErrors).Once()
	defer su.AssertExpectations(t)

	store := database.NewMemoryStore(database.Account{Username: "alice"})
	registry := NewRegistry()
	alice := &fakeConn{name: "alice"}
	registry.AddConnection("alice", alice)

	r := NewRouter(registry, store, store, su, testutil.TestLogger(t))
	assert.NoError(t, r.HandleFrame(context.Background(), "alice", alice, []byte(`{"text":"hi"}`)))
	assert.Error(t, r.HandleFrame(context.Background(), "alice", alice, []byte(`{}`)))
}
