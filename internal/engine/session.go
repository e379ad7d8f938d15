package engine

import "context"

// Session is the channel to a live engine session. Implementations are
// provided by the transport layer; every method may fail with an error
// wrapping ErrInvocation, which the bridge propagates unchanged.
type Session interface {
	Eval(ctx context.Context, script string) error
	ReturningEval(ctx context.Context, script string, nargout int) ([]any, error)
	Feval(ctx context.Context, name string, args ...any) error
	ReturningFeval(ctx context.Context, name string, nargout int, args ...any) ([]any, error)
	GetVariable(ctx context.Context, name string) (any, error)
	SetVariable(ctx context.Context, name string, value any) error
}
