package mocks

import (
	"context"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// Mock BrokerPublisher
type BrokerPublisher struct {
	mock.Mock
}

var _ interfaces.BrokerPublisher = (*BrokerPublisher)(nil)

func (m *BrokerPublisher) PublishEvents(ctx context.Context, events []models.DomainEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

// Mock UserLocker
type UserLocker struct {
	mock.Mock
}

var _ interfaces.UserLocker = (*UserLocker)(nil)

func (m *UserLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	args := m.Called(ctx, userID)
	var unlock func()
	if fn := args.Get(0); fn != nil {
		unlock = fn.(func())
	}
	return unlock, args.Error(1)
}

// Mock SessionProvider. Run calls fn with a nil querier unless an error is configured.
type SessionProvider struct {
	mock.Mock
}

var _ interfaces.SessionProvider = (*SessionProvider)(nil)

func (m *SessionProvider) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	args := m.Called(ctx, fn)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(ctx, nil)
}
