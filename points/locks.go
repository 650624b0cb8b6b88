package points

import "github.com/moby/locker"

// userLocks serializes balance changes per user. locker drops an entry once
// its last holder unlocks, so only users with work in flight hold memory.
type userLocks struct {
	l *locker.Locker
}

func newUserLocks() *userLocks {
	return &userLocks{l: locker.New()}
}

// lock blocks until the caller owns userID's lock and returns the release func.
func (u *userLocks) lock(userID UserID) func() {
	name := userID.String()
	u.l.Lock(name)
	return func() { _ = u.l.Unlock(name) }
}
