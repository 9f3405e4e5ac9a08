package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps accounts and messages in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	messages map[int]Message
	nextId   int
}

func NewMemoryStore(accounts ...Account) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]Account),
		messages: make(map[int]Message),
		nextId:   1,
	}
	for _, a := range accounts {
		s.accounts[a.Username] = a
	}
	return s
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account Account) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Username]; ok {
		return Account{}, fmt.Errorf("account %q: %w", account.Username, ErrDuplicate)
	}
	s.accounts[account.Username] = account
	return account, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, username string, active bool) error {
	return s.updateAccount(username, func(a *Account) { a.Active = active })
}

func (s *MemoryStore) SetBlocked(ctx context.Context, username string, blocked bool) error {
	return s.updateAccount(username, func(a *Account) { a.Blocked = blocked })
}

func (s *MemoryStore) updateAccount(username string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return ErrNotFound
	}
	fn(&a)
	s.accounts[username] = a
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, group AccountGroup) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := []Account{}
	for _, a := range s.accounts {
		if group.matches(a) {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
	return res, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Id == 0 {
		for {
			if _, taken := s.messages[s.nextId]; !taken {
				break
			}
			s.nextId++
		}
		msg.Id = s.nextId
		s.nextId++
	} else if _, ok := s.messages[msg.Id]; ok {
		return Message{}, fmt.Errorf("message %d: %w", msg.Id, ErrDuplicate)
	}

	s.messages[msg.Id] = msg
	return msg, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id int) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[msg.Id]
	if !ok {
		return Message{}, ErrNotFound
	}
	cur.Text = msg.Text
	s.messages[msg.Id] = cur
	return cur, nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := []Message{}
	for _, m := range s.messages {
		if filter.matches(m) {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Id < res[j].Id })
	return res, nil
}
