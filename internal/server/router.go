package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/rs/zerolog"
)

// Router validates, persists and dispatches inbound client frames.
type Router struct {
	registry       *Registry
	messages       database.MessageStore
	accounts       database.AccountDirectory
	stats          stats.StatsProvider
	log            zerolog.Logger
	rejectInactive bool
}

type RouterOption func(*Router)

// WithRejectInactive makes the router refuse direct messages to accounts
// whose active flag is false.
func WithRejectInactive(reject bool) RouterOption {
	return func(r *Router) { r.rejectInactive = reject }
}

func NewRouter(
	registry *Registry,
	messages database.MessageStore,
	accounts database.AccountDirectory,
	su stats.StatsProvider,
	logger zerolog.Logger,
	opts ...RouterOption,
) *Router {
	r := &Router{
		registry: registry,
		messages: messages,
		accounts: accounts,
		stats:    su,
		log:      logger.With().Str("component", "router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleFrame routes one raw frame sent by sender over conn. It returns nil
// when the message was dispatched, or a *RoutingError describing the notice
// the sender received instead.
func (r *Router) HandleFrame(ctx context.Context, sender string, conn Conn, raw []byte) error {
	err := r.route(ctx, sender, conn, raw)
	if err != nil {
		r.stats.Incr(stats.NumRoutingErrors)
	} else {
		r.stats.Incr(stats.NumMessagesRouted)
	}
	return err
}

func (r *Router) route(ctx context.Context, sender string, conn Conn, raw []byte) error {
	in, err := parseClientMessage(raw)
	if err != nil {
		notify(conn, malformedNotice)
		return newRoutingError(MalformedMessage, err)
	}

	if in.Text == "" {
		notify(conn, missingTextNotice)
		return newRoutingError(MissingText, nil)
	}

	dateTime := Now()
	if in.DateTime != nil {
		dateTime = in.DateTime.Time
	}

	saved, err := r.messages.CreateMessage(ctx, database.Message{
		From:            sender,
		To:              in.To,
		Text:            in.Text,
		DateTime:        dateTime,
		ReadByRecipient: false,
	})
	if err != nil {
		notify(conn, persistenceNotice)
		return newRoutingError(PersistenceFailure, err)
	}

	msg := types.Message{
		Id:              saved.Id,
		From:            saved.From,
		To:              saved.To,
		Text:            saved.Text,
		DateTime:        saved.DateTime,
		ReadByRecipient: saved.ReadByRecipient,
	}
	frame, err := serializeMessage(msg)
	if err != nil {
		notify(conn, deliveryFailureNotice)
		return newRoutingError(PersistenceFailure, fmt.Errorf("serialize message %d: %w", msg.Id, err))
	}

	if msg.IsBroadcast() {
		r.broadcast(frame)
		return nil
	}

	if err := r.checkRecipient(ctx, conn, msg.To); err != nil {
		return err
	}

	return r.sendTo(conn, msg.To, frame)
}

// checkRecipient gates delivery on the recipient's account. A recipient with
// no account is let through so that dispatch reports it like an offline one.
func (r *Router) checkRecipient(ctx context.Context, conn Conn, to string) error {
	acct, err := r.accounts.GetAccount(ctx, to)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		notify(conn, deliveryFailureNotice)
		return newRoutingError(DirectoryFailure, err)
	}

	account := types.Account{
		Username: acct.Username,
		Nickname: acct.Nickname,
		Blocked:  acct.Blocked,
		Active:   acct.Active,
	}
	switch {
	case account.Blocked:
		notify(conn, blockedNotice(account.DisplayName()))
		return newRoutingError(BlockedRecipient, nil)
	case r.rejectInactive && !account.Active:
		notify(conn, inactiveNotice(account.DisplayName()))
		return newRoutingError(InactiveRecipient, nil)
	}

	return nil
}

func (r *Router) broadcast(frame []byte) {
	for _, c := range r.registry.AllConnections() {
		if err := c.Send(frame); err != nil {
			r.log.Debug().Err(err).Msg("broadcast send failed")
		}
	}
}

func (r *Router) sendTo(from Conn, to string, frame []byte) error {
	conns := r.registry.ConnectionsFor(to)
	if len(conns) == 0 {
		notify(from, unknownContactNotice(to))
		return newRoutingError(UnknownOrOfflineRecipient, nil)
	}

	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			r.log.Debug().Err(err).Str("recipient", to).Msg("send failed")
		}
	}
	return nil
}

// notify sends a plain text notice, ignoring connections that already closed.
func notify(conn Conn, notice string) {
	conn.Send([]byte(notice))
}
