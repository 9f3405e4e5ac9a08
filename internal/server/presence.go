package server

import (
	"context"
	"errors"
	"sync"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/rs/zerolog"
)

// PresenceTracker admits connections into the registry and keeps the
// account directory's active flag in step with live connection counts.
type PresenceTracker struct {
	registry *Registry
	accounts database.AccountDirectory
	log      zerolog.Logger
	locks    *identityLocks
}

func NewPresenceTracker(registry *Registry, accounts database.AccountDirectory, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		registry: registry,
		accounts: accounts,
		log:      logger.With().Str("component", "presence").Logger(),
		locks:    newIdentityLocks(),
	}
}

// Admit resolves identity and, if the account may connect, greets and
// registers conn. Rejected connections get a notice, are closed, and never
// enter the registry.
func (p *PresenceTracker) Admit(ctx context.Context, identity string, conn Conn) (ConnectionID, error) {
	acct, err := p.accounts.GetAccount(ctx, identity)
	if err != nil {
		var rErr *RoutingError
		if errors.Is(err, database.ErrNotFound) {
			notify(conn, unknownSenderNotice)
			rErr = newRoutingError(UnknownSenderIdentity, err)
		} else {
			notify(conn, deliveryFailureNotice)
			rErr = newRoutingError(DirectoryFailure, err)
		}
		conn.Close()
		return "", rErr
	}

	if acct.Blocked {
		notify(conn, blockedSenderNotice)
		conn.Close()
		return "", newRoutingError(BlockedSenderIdentity, nil)
	}

	notify(conn, greetingNotice)

	unlock := p.locks.lock(identity)
	defer unlock()

	id := p.registry.AddConnection(identity, conn)
	if len(p.registry.ConnectionsFor(identity)) == 1 {
		p.setActive(ctx, identity, true)
	}

	return id, nil
}

// Release removes the connection and marks the account offline once its
// last connection is gone.
func (p *PresenceTracker) Release(ctx context.Context, identity string, id ConnectionID) {
	unlock := p.locks.lock(identity)
	defer unlock()

	if !p.registry.Has(id) {
		return
	}

	p.registry.RemoveConnection(id)
	if len(p.registry.ConnectionsFor(identity)) == 0 {
		p.setActive(ctx, identity, false)
	}
}

func (p *PresenceTracker) setActive(ctx context.Context, identity string, active bool) {
	if err := p.accounts.SetActive(ctx, identity, active); err != nil {
		p.log.Error().Err(err).Str("identity", identity).Bool("active", active).Msg("failed to update presence")
	}
}

// identityLocks hands out one mutex per identity, dropping it once unused.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[string]*identityLock)}
}

func (l *identityLocks) lock(identity string) (unlock func()) {
	l.mu.Lock()
	il, ok := l.locks[identity]
	if !ok {
		il = &identityLock{}
		l.locks[identity] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()

	return func() {
		il.mu.Unlock()

		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}
