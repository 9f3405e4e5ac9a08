package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	selectMessageColumns = "SELECT id, from_user, to_user, text, date_time, read_by_recipient FROM messages"

	syncMessageIdSequence = "SELECT setval(pg_get_serial_sequence('messages', 'id'), " +
		"GREATEST((SELECT MAX(id) FROM messages), 1))"
)

func (db *PgStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO accounts (username, nickname, blocked, active, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5)",
		account.Username,
		account.Nickname,
		account.Blocked,
		account.Active,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, fmt.Errorf("account %q: %w", account.Username, ErrDuplicate)
		}
		return Account{}, err
	}

	return account, nil
}

func (db *PgStore) GetAccount(ctx context.Context, username string) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT username, nickname, blocked, active FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var a Account
	err := row.Scan(
		&a.Username,
		&a.Nickname,
		&a.Blocked,
		&a.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}

	return a, err
}

func (db *PgStore) SetActive(ctx context.Context, username string, active bool) error {
	return db.updateAccountFlag(ctx, "active", username, active)
}

func (db *PgStore) SetBlocked(ctx context.Context, username string, blocked bool) error {
	return db.updateAccountFlag(ctx, "blocked", username, blocked)
}

// updateAccountFlag sets one boolean column. column is never user input.
func (db *PgStore) updateAccountFlag(ctx context.Context, column, username string, value bool) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET "+column+" = $2, updated_at = $3 WHERE username = $1",
		username,
		value,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgStore) ListAccounts(ctx context.Context, group AccountGroup) ([]Account, error) {
	var where string
	switch group {
	case GroupOnline:
		where = "active AND NOT blocked"
	case GroupOffline:
		where = "NOT active AND NOT blocked"
	case GroupBlocked:
		where = "blocked"
	default:
		return nil, fmt.Errorf("unknown account group %q", group)
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT username, nickname, blocked, active FROM accounts WHERE "+where+" ORDER BY username",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Username, &a.Nickname, &a.Blocked, &a.Active); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

func (db *PgStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.Id != 0 {
		return db.createMessageWithId(ctx, msg)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (from_user, to_user, text, date_time, read_by_recipient) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		msg.From,
		nullString(msg.To),
		msg.Text,
		msg.DateTime,
		msg.ReadByRecipient,
	)
	if err := row.Scan(&msg.Id); err != nil {
		if isUniqueViolation(err) {
			return Message{}, fmt.Errorf("message: %w", ErrDuplicate)
		}
		return Message{}, err
	}

	return msg, nil
}

// createMessageWithId inserts a caller-chosen id and moves the id sequence
// past it so later generated ids cannot collide.
func (db *PgStore) createMessageWithId(ctx context.Context, msg Message) (Message, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, from_user, to_user, text, date_time, read_by_recipient) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		msg.Id,
		msg.From,
		nullString(msg.To),
		msg.Text,
		msg.DateTime,
		msg.ReadByRecipient,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Message{}, fmt.Errorf("message %d: %w", msg.Id, ErrDuplicate)
		}
		return Message{}, err
	}

	if _, err := tx.ExecContext(ctx, syncMessageIdSequence); err != nil {
		return Message{}, fmt.Errorf("advance message id sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}

	return msg, nil
}

func (db *PgStore) GetMessage(ctx context.Context, id int) (Message, error) {
	row := db.conn.QueryRowContext(ctx, selectMessageColumns+" WHERE id = $1", id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return m, err
}

func (db *PgStore) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET text = $2 WHERE id = $1 "+
			"RETURNING id, from_user, to_user, text, date_time, read_by_recipient",
		msg.Id,
		msg.Text,
	)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}

	return m, err
}

func (db *PgStore) DeleteMessage(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (db *PgStore) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	query := selectMessageColumns + " WHERE ($1 = '' OR from_user = $1) AND ($2 = '' OR to_user = $2) ORDER BY id"

	from, to := filter.From, filter.To
	if anyValue(from) {
		from = ""
	}
	if anyValue(to) {
		to = ""
	}

	rows, err := db.conn.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m  Message
		to sql.NullString
	)
	err := row.Scan(
		&m.Id,
		&m.From,
		&to,
		&m.Text,
		&m.DateTime,
		&m.ReadByRecipient,
	)
	m.To = to.String

	return m, err
}
