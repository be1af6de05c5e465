package cron

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLockStore struct {
	values map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if f.values[key] != expected {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *fakeLockStore) LockKey(name string) string { return "handoff:lock:" + name }

func TestRedisLockIsExclusive(t *testing.T) {
	store := newFakeLockStore()
	first, err := NewRedisLock(store, "cron-worker", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "cron-worker", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-holder release must not free the lock.
	require.NoError(t, second.Release(context.Background()))
	assert.Contains(t, store.values, "handoff:lock:cron-worker")

	require.NoError(t, first.Release(context.Background()))
	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockLeavesTakenOverKey(t *testing.T) {
	store := newFakeLockStore()
	lock, err := NewRedisLock(store, "cron-worker", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	store.values["handoff:lock:cron-worker"] = "someone-else"
	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values["handoff:lock:cron-worker"])
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "x", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(newFakeLockStore(), "", 0)
	assert.Error(t, err)

	lock, err := NewRedisLock(newFakeLockStore(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
}
