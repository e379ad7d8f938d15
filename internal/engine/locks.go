package engine

import (
	"fmt"
	"reflect"
	"sync"
)

// sessionLocks hands out one mutex per session so binding-name allocation
// and the call it serves never interleave with another call on the same
// session, even across separately linked interfaces. An entry lives as long
// as some open proxy holds it.
var sessionLocks = struct {
	mu    sync.Mutex
	bySes map[Session]*sessionLock
}{bySes: make(map[Session]*sessionLock)}

type sessionLock struct {
	sync.Mutex
	refs int
}

// acquireLock returns the lock serialising calls on s and a release func
// that drops the proxy's hold on it. A session implementing sync.Locker is
// its own lock.
func acquireLock(s Session) (sync.Locker, func()) {
	if l, ok := s.(sync.Locker); ok {
		return l, func() {}
	}
	if !reflect.TypeOf(s).Comparable() {
		// Not usable as a map key; the lock is then per linked proxy.
		return &sync.Mutex{}, func() {}
	}
	sessionLocks.mu.Lock()
	defer sessionLocks.mu.Unlock()
	l, ok := sessionLocks.bySes[s]
	if !ok {
		l = &sessionLock{}
		sessionLocks.bySes[s] = l
	}
	l.refs++
	var once sync.Once
	return l, func() {
		once.Do(func() {
			sessionLocks.mu.Lock()
			defer sessionLocks.mu.Unlock()
			l.refs--
			if l.refs == 0 && sessionLocks.bySes[s] == l {
				delete(sessionLocks.bySes, s)
			}
		})
	}
}

type unexpectedValueError struct {
	what  string
	value any
}

func (e *unexpectedValueError) Error() string {
	return fmt.Sprintf("unexpected %s value of type %T", e.what, e.value)
}
