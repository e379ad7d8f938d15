package engine

import (
	"context"
	"testing"
)

type idleSession struct{ name string }

func (*idleSession) Eval(context.Context, string) error { return nil }
func (*idleSession) ReturningEval(context.Context, string, int) ([]any, error) {
	return nil, nil
}
func (*idleSession) Feval(context.Context, string, ...any) error { return nil }
func (*idleSession) ReturningFeval(context.Context, string, int, ...any) ([]any, error) {
	return nil, nil
}
func (*idleSession) GetVariable(context.Context, string) (any, error) { return nil, nil }
func (*idleSession) SetVariable(context.Context, string, any) error { return nil }

func registered(s Session) (*sessionLock, bool) {
	sessionLocks.mu.Lock()
	defer sessionLocks.mu.Unlock()
	l, ok := sessionLocks.bySes[s]
	return l, ok
}

func TestSessionLockIsSharedAndReleased(t *testing.T) {
	s := &idleSession{name: "shared"}
	first, releaseFirst := acquireLock(s)
	second, releaseSecond := acquireLock(s)
	if first != second {
		t.Fatal("proxies on one session must share a lock")
	}
	if other, release := acquireLock(&idleSession{name: "other"}); other == first {
		t.Fatal("distinct sessions must not share a lock")
	} else {
		release()
	}

	releaseFirst()
	releaseFirst()
	if l, ok := registered(s); !ok || l.refs != 1 {
		t.Fatalf("expected one remaining hold, got %+v ok=%v", l, ok)
	}
	releaseSecond()
	if _, ok := registered(s); ok {
		t.Fatal("lock entry kept after the last release")
	}
}

func TestProxyCloseReleasesSessionLock(t *testing.T) {
	s := &idleSession{name: "linked"}
	decl := Declare("Stats").
		Func("Sum", FunctionInfo{Name: "sum", Nargout: 1}, TypeOf[float64](), TypeOf[[]float64]())
	a, err := Link(decl, s)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	b, err := Link(decl, s)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if a.exec.lock != b.exec.lock {
		t.Fatal("interfaces linked to one session must share a lock")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := registered(s); !ok {
		t.Fatal("lock released while another proxy is open")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := registered(s); ok {
		t.Fatal("lock entry kept after every proxy closed")
	}
}
