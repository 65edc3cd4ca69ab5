package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dre-ingest/internal/shared"
)

func TestRedisLockerSingleFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	first := NewRedisLocker(client, "", time.Minute, "worker-a")
	second := NewRedisLocker(client, "", time.Minute, "worker-b")

	lease, err := first.Acquire(ctx)
	require.NoError(t, err)

	_, err = second.Acquire(ctx)
	require.Error(t, err)
	require.True(t, IsAlreadyRunning(err))
	var held *AlreadyRunningError
	require.ErrorAs(t, err, &held)
	require.Contains(t, held.Holder, "worker-a")

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	require.False(t, mr.Exists(shared.IngestLockKey(shared.IngestLockName)))

	again, err := second.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLeaseDoesNotDeleteForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	lease, err := NewRedisLocker(client, "", time.Second, "").Acquire(ctx)
	require.NoError(t, err)

	// TTL lapses and another holder takes over.
	mr.FastForward(2 * time.Second)
	other, err := NewRedisLocker(client, "", time.Minute, "other").Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	require.True(t, mr.Exists(shared.IngestLockKey(shared.IngestLockName)))
	require.NoError(t, other.Release(ctx))
}

func TestFileLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.pid")
	ctx := context.Background()

	l := NewFileLocker(path)
	lease, err := l.Acquire(ctx)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(raw))

	_, err = NewFileLocker(path).Acquire(ctx)
	require.True(t, IsAlreadyRunning(err))

	require.NoError(t, lease.Release(ctx))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileLockerReclaimsStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0o644))

	l := NewFileLocker(path)
	l.alive = func(int) bool { return false }
	lease, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

func TestFileLockerLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242"), 0o644))

	l := NewFileLocker(path)
	l.alive = func(pid int) bool { return pid == 4242 }
	_, err := l.Acquire(context.Background())
	var held *AlreadyRunningError
	require.ErrorAs(t, err, &held)
	require.Equal(t, "pid 4242", held.Holder)
}
