package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAccountDirectory struct {
	mock.Mock
}

func (m *MockAccountDirectory) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockAccountDirectory) CreateAccount(ctx context.Context, account Account) (Account, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockAccountDirectory) GetAccount(ctx context.Context, username string) (Account, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockAccountDirectory) SetActive(ctx context.Context, username string, active bool) error {
	args := m.Called(ctx, username, active)
	return args.Error(0)
}
func (m *MockAccountDirectory) SetBlocked(ctx context.Context, username string, blocked bool) error {
	args := m.Called(ctx, username, blocked)
	return args.Error(0)
}
func (m *MockAccountDirectory) ListAccounts(ctx context.Context, group AccountGroup) ([]Account, error) {
	args := m.Called(ctx, group)
	if accounts, ok := args.Get(0).([]Account); ok {
		return accounts, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessageStore) GetMessage(ctx context.Context, id int) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessageStore) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessageStore) DeleteMessage(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockMessageStore) ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error) {
	args := m.Called(ctx, filter)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
