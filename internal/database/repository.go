package database

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// AccountDirectory resolves usernames to accounts and records presence.
type AccountDirectory interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, username string) (Account, error)
	SetActive(ctx context.Context, username string, active bool) error
	SetBlocked(ctx context.Context, username string, blocked bool) error
	ListAccounts(ctx context.Context, group AccountGroup) ([]Account, error)
}

// MessageStore persists message records keyed by id.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	UpdateMessage(ctx context.Context, msg Message) (Message, error)
	DeleteMessage(ctx context.Context, id int) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error)
}

// Store is a backend that serves both accounts and messages.
type Store interface {
	AccountDirectory
	MessageStore
	Close() error
}
