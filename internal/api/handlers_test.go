package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockAccountDirectory{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			app := NewGoChatApp(testutil.TestLogger(t), nil, mockRepo, nil, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func newTestApp(t *testing.T, store *database.MemoryStore, allowedOrigins []string) (*GoChatApp, *server.ChatServer, *httptest.Server) {
	cs := server.NewChatServer(testutil.TestLogger(t), store, store, stats.NopStats{}, server.Options{})
	app := NewGoChatApp(testutil.TestLogger(t), cs, store, nil, &config.Config{AllowedOrigins: allowedOrigins})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
		srv.Close()
	})
	return app, cs, srv
}

func wsURL(srv *httptest.Server, identity string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/messages/websocket/" + identity
}

func readFrame(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(frame)
}

func Test_contacts(t *testing.T) {
	store := database.NewMemoryStore(database.Account{Username: "alice"}, database.Account{Username: "bob"})
	_, cs, srv := newTestApp(t, store, nil)

	getContacts := func() []string {
		res, err := http.Get(srv.URL + "/contacts")
		require.NoError(t, err)
		defer res.Body.Close()

		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

		var contacts []string
		require.NoError(t, json.NewDecoder(res.Body).Decode(&contacts))
		return contacts
	}

	assert.Equal(t, []string{}, getContacts(), "expected an empty array with no connections")

	for _, identity := range []string{"bob", "alice"} {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, identity), nil)
		require.NoError(t, err)
		defer ws.Close()
		assert.Equal(t, "Hello", readFrame(t, ws))
	}

	assert.Eventually(t, func() bool {
		return len(cs.Contacts()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, getContacts())
}

func Test_serveWs(t *testing.T) {
	store := database.NewMemoryStore(database.Account{Username: "alice"}, database.Account{Username: "bob"})
	_, _, srv := newTestApp(t, store, []string{"http://localhost:3000"})

	t.Run("routes messages between clients", func(t *testing.T) {
		alice, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "alice"), nil)
		require.NoError(t, err)
		defer alice.Close()
		assert.Equal(t, "Hello", readFrame(t, alice))

		bob, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "bob"), http.Header{"Origin": {"http://localhost:3000"}})
		require.NoError(t, err)
		defer bob.Close()
		assert.Equal(t, "Hello", readFrame(t, bob))

		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"to":"bob","text":"hey"}`)))

		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(readFrame(t, bob)), &msg))
		assert.Equal(t, "alice", msg["from"])
		assert.Equal(t, "bob", msg["to"])
		assert.Equal(t, "hey", msg["text"])
		assert.Equal(t, false, msg["readByRecipient"])
	})

	t.Run("rejects unknown origin", func(t *testing.T) {
		_, res, err := websocket.DefaultDialer.Dial(wsURL(srv, "alice"), http.Header{"Origin": {"http://evil.example"}})
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, http.StatusForbidden, res.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "zed"), nil)
		require.NoError(t, err)
		defer ws.Close()

		assert.Equal(t, "sender account does not exist", readFrame(t, ws))
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = ws.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected the server to close the connection, got %v", err)
	})

	t.Run("plain request is not upgraded", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/messages/websocket/alice")
		require.NoError(t, err)
		defer res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}
