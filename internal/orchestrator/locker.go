package orchestrator

import (
	"context"
	"sync"

	"progression-server/internal/interfaces"
)

// LocalUserLocker is an in-process keyed mutex. Waiting respects ctx cancellation.
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

var _ interfaces.UserLocker = (*LocalUserLocker)(nil)

func NewLocalUserLocker() *LocalUserLocker {
	return &LocalUserLocker{locks: make(map[int64]*userLock)}
}

func (l *LocalUserLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.sem
			l.release(userID, ul)
		})
	}, nil
}

func (l *LocalUserLocker) release(userID int64, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

// Len returns the number of users currently holding or waiting for a lock.
func (l *LocalUserLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
