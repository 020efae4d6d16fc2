package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLock 与 api.Lock 一致：失锁后仍处于 held 状态，直到 Unlock
type fakeLock struct {
	mu      sync.Mutex
	held    bool
	unlocks int
	issued  chan chan struct{}
}

func (l *fakeLock) Lock(<-chan struct{}) (<-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, api.ErrLockHeld
	}
	l.held = true
	lost := make(chan struct{})
	l.issued <- lost
	return lost, nil
}

func (l *fakeLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return api.ErrLockNotHeld
	}
	l.held = false
	l.unlocks++
	return nil
}

func nextLeaderEvent(t *testing.T, events <-chan bool) bool {
	t.Helper()
	select {
	case v := <-events:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no leadership change")
		return false
	}
}

func TestElectionRejoinsAfterLosingLock(t *testing.T) {
	lock := &fakeLock{issued: make(chan chan struct{}, 4)}
	events := make(chan bool, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runElection(ctx, lock, "leader", 10*time.Millisecond, func(leader bool) { events <- leader })
	}()

	first := <-lock.issued
	assert.True(t, nextLeaderEvent(t, events))

	close(first)
	assert.False(t, nextLeaderEvent(t, events))
	assert.True(t, nextLeaderEvent(t, events))
	<-lock.issued

	cancel()
	assert.False(t, nextLeaderEvent(t, events))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("election did not stop")
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	assert.Equal(t, 2, lock.unlocks)
	assert.False(t, lock.held)
	require.Empty(t, lock.issued)
}
