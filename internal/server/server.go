package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/rs/zerolog"
)

// ChatServer owns the registry and drives each connection through
// admission, reading, and release.
type ChatServer struct {
	log            zerolog.Logger
	registry       *Registry
	router         *Router
	presence       *PresenceTracker
	maxMessageSize int64
	wg             sync.WaitGroup

	mu      sync.Mutex
	closing bool
	clients map[*Client]struct{}
}

type Options struct {
	// AnnounceConnections broadcasts the connection count on every connect
	// and disconnect.
	AnnounceConnections bool
	// RejectInactive refuses direct messages to accounts marked inactive.
	RejectInactive bool
	// Mirror, when set, receives per-identity connection counts.
	Mirror PresenceMirror
	// MaxMessageSize bounds one inbound frame in bytes. Zero selects
	// DefaultMaxMessageSize.
	MaxMessageSize int64
}

func NewChatServer(
	logger zerolog.Logger,
	accounts database.AccountDirectory,
	messages database.MessageStore,
	su stats.StatsProvider,
	opts Options,
) *ChatServer {
	registry := NewRegistry()
	registry.Observe(CountConnections(su))
	if opts.AnnounceConnections {
		registry.Observe(AnnounceConnectionCount(registry))
	}
	if opts.Mirror != nil {
		registry.Observe(MirrorPresence(opts.Mirror, logger))
	}

	return &ChatServer{
		log:            logger.With().Str("component", "chat-server").Logger(),
		registry:       registry,
		router:         NewRouter(registry, messages, accounts, su, logger, WithRejectInactive(opts.RejectInactive)),
		presence:       NewPresenceTracker(registry, accounts, logger),
		maxMessageSize: opts.MaxMessageSize,
		clients:        make(map[*Client]struct{}),
	}
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

// Contacts returns the identities currently holding a live connection.
func (cs *ChatServer) Contacts() []string {
	return cs.registry.Identities()
}

// ServeClient runs the lifecycle of one upgraded websocket and returns once
// the connection is closed. Connections arriving after Shutdown has begun
// are closed with CloseGoingAway.
func (cs *ChatServer) ServeClient(ctx context.Context, identity string, ws *websocket.Conn) {
	client := NewClient(identity, ws, cs.maxMessageSize, cs.log)
	if !cs.track(client) {
		cs.log.Info().Str("identity", identity).Msg("connection refused, server shutting down")
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}
	defer cs.wg.Done()
	defer cs.untrack(client)

	go client.Write()

	id, err := cs.presence.Admit(ctx, identity, client)
	if err != nil {
		cs.log.Info().Err(err).Str("identity", identity).Msg("connection rejected")
		<-client.Done()
		return
	}

	connLog := cs.log.With().Str("identity", identity).Str("connection_id", string(id)).Logger()

	// Shutdown may have started while the account lookup was running.
	if cs.isClosing() {
		client.Close()
		cs.presence.Release(context.WithoutCancel(ctx), identity, id)
		<-client.Done()
		connLog.Info().Msg("client closed during shutdown")
		return
	}

	connLog.Info().Msg("client connected")

	client.Read(func(raw []byte) {
		if err := cs.router.HandleFrame(ctx, identity, client, raw); err != nil {
			connLog.Info().Err(err).Msg("frame not delivered")
		}
	})

	cs.presence.Release(context.WithoutCancel(ctx), identity, id)
	<-client.Done()
	connLog.Info().Msg("client disconnected")
}

// track registers c with the wait group unless Shutdown has begun.
func (cs *ChatServer) track(c *Client) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closing {
		return false
	}
	if cs.clients == nil {
		cs.clients = make(map[*Client]struct{})
	}
	cs.wg.Add(1)
	cs.clients[c] = struct{}{}
	return true
}

func (cs *ChatServer) untrack(c *Client) {
	cs.mu.Lock()
	delete(cs.clients, c)
	cs.mu.Unlock()
}

func (cs *ChatServer) isClosing() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closing
}

// Shutdown refuses new connections, closes every live one, including those
// still being admitted, and waits for their lifecycles to finish or for ctx
// to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("closing client connections")

	cs.mu.Lock()
	cs.closing = true
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	for _, c := range cs.registry.AllConnections() {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
