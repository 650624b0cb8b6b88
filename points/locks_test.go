package points

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/moby/locker"
	"github.com/stretchr/testify/assert"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := newUserLocks()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock(1)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	// every entry was dropped on its last release
	assert.ErrorIs(t, locks.l.Unlock(UserID(1).String()), locker.ErrNoSuchLock)
}

func TestUserLocks_DistinctUsersDoNotContend(t *testing.T) {
	locks := newUserLocks()

	releaseA := locks.lock(1)
	done := make(chan struct{})
	go func() {
		releaseB := locks.lock(2)
		releaseB()
		close(done)
	}()
	<-done // would deadlock if user 2 waited on user 1

	assert.ErrorIs(t, locks.l.Unlock(UserID(2).String()), locker.ErrNoSuchLock)
	releaseA()
	assert.ErrorIs(t, locks.l.Unlock(UserID(1).String()), locker.ErrNoSuchLock)
}
