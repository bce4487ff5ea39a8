package lib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, 30*time.Second).WithToken(func() string { return "tok-1" })

	mock.ExpectSetNX("lock:verify:abc", "tok-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseLockScript, []string{"lock:verify:abc"}, "tok-1").SetVal(int64(1))

	release, ok, err := locker.Acquire(context.Background(), "verify:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, release)
	assert.NoError(t, release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockerHeldElsewhere(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, time.Second).WithToken(func() string { return "tok-2" })

	mock.ExpectSetNX("lock:verify:abc", "tok-2", time.Second).SetVal(false)

	release, ok, err := locker.Acquire(context.Background(), "verify:abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockerError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	locker := NewRedisLocker(client, time.Second).WithToken(func() string { return "tok-3" })

	mock.ExpectSetNX("lock:verify:abc", "tok-3", time.Second).SetErr(errors.New("connection refused"))

	_, ok, err := locker.Acquire(context.Background(), "verify:abc")
	assert.Error(t, err)
	assert.False(t, ok)
}
