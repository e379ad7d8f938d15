// Package simengine provides an in-memory engine session. It evaluates the
// statement forms the bridge emits against a workspace of variables and a
// registry of Go functions, and records every primitive call it receives.
package simengine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"enginelink/go-backend/internal/engine"
)

// Session operations as recorded in the transcript.
const (
	OpEval           = "eval"
	OpReturningEval  = "returning_eval"
	OpFeval          = "feval"
	OpReturningFeval = "returning_feval"
	OpGetVariable    = "get_variable"
	OpSetVariable    = "set_variable"
)

// Func is a function callable from scripts. It receives argument values in
// the form GetVariable would return them and may return at most nargout
// values; when nargout is zero it may still return one.
type Func func(args []any, nargout int) ([]any, error)

// Call is one primitive call received by the session. Target is the script
// for eval operations and the function or variable name otherwise.
type Call struct {
	Op     string
	Target string
	Args   []any
}

type fault struct {
	op     string
	target string
	err    error
}

// Session is a simulated engine session. It is safe for concurrent use;
// each primitive call runs atomically.
type Session struct {
	mu         sync.Mutex
	vars       map[string]any
	pwd        string
	funcs      map[string]Func
	dirFuncs   map[string]map[string]Func
	transcript []Call
	faults     []fault
}

// New returns an empty session whose current directory is dir.
func New(dir string) *Session {
	return &Session{
		vars:     make(map[string]any),
		pwd:      dir,
		funcs:    make(map[string]Func),
		dirFuncs: make(map[string]map[string]Func),
	}
}

// Register makes fn callable as name from any directory.
func (s *Session) Register(name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
}

// RegisterIn makes fn callable as name only while dir is the current
// directory, the way a script file on disk is found.
func (s *Session) RegisterIn(dir, name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirFuncs[dir] == nil {
		s.dirFuncs[dir] = make(map[string]Func)
	}
	s.dirFuncs[dir][name] = fn
}

// Fail makes every later call with the given op fail with err while its
// target starts with prefix. An empty prefix matches every target.
func (s *Session) Fail(op, prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, target: prefix, err: err})
}

func (s *Session) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

func (s *Session) CurrentDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pwd
}

func (s *Session) SetCurrentDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwd = dir
}

// Variable returns the exported value of a workspace variable.
func (s *Session) Variable(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return nil, false
	}
	return exportValue(v), true
}

// Variables returns the sorted names of the workspace variables.
func (s *Session) Variables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.vars))
}

// Transcript returns a copy of every call received so far.
func (s *Session) Transcript() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript)
}

// Calls returns the targets of the recorded calls with the given op.
func (s *Session) Calls(op string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.transcript {
		if c.Op == op {
			out = append(out, c.Target)
		}
	}
	return out
}

// Reset clears the workspace, the transcript and the faults. Registered
// functions and the current directory are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.vars)
	s.transcript = nil
	s.faults = nil
}

func (s *Session) Eval(ctx context.Context, script string) error {
	return s.do(ctx, OpEval, script, nil, func() error {
		st, err := parseStatement(script)
		if err != nil {
			return err
		}
		return s.exec(st)
	})
}

func (s *Session) ReturningEval(ctx context.Context, script string, nargout int) ([]any, error) {
	var out []any
	err := s.do(ctx, OpReturningEval, script, nil, func() error {
		e, err := parseExpression(script)
		if err != nil {
			return err
		}
		vals, err := s.evalExpr(e, nargout)
		if err != nil {
			return err
		}
		out, err = exportResults(vals, nargout)
		return err
	})
	return out, err
}

func (s *Session) Feval(ctx context.Context, name string, args ...any) error {
	return s.do(ctx, OpFeval, name, args, func() error {
		_, err := s.callFunction(name, importAll(args), 0)
		return err
	})
}

func (s *Session) ReturningFeval(ctx context.Context, name string, nargout int, args ...any) ([]any, error) {
	var out []any
	err := s.do(ctx, OpReturningFeval, name, args, func() error {
		vals, err := s.callFunction(name, importAll(args), nargout)
		if err != nil {
			return err
		}
		out, err = exportResults(vals, nargout)
		return err
	})
	return out, err
}

func (s *Session) GetVariable(ctx context.Context, name string) (any, error) {
	var out any
	err := s.do(ctx, OpGetVariable, name, nil, func() error {
		v, ok := s.vars[name]
		if !ok {
			return fmt.Errorf("undefined variable %q", name)
		}
		out = exportValue(v)
		return nil
	})
	return out, err
}

func (s *Session) SetVariable(ctx context.Context, name string, value any) error {
	return s.do(ctx, OpSetVariable, name, []any{value}, func() error {
		if !engine.ValidIdentifier(name) {
			return fmt.Errorf("invalid variable name %q", name)
		}
		s.vars[name] = importValue(value)
		return nil
	})
}

// do records the call, applies injected faults and runs fn under the
// session lock. Every failure wraps engine.ErrInvocation.
func (s *Session) do(ctx context.Context, op, target string, args []any, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return invocationError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Call{Op: op, Target: target, Args: slices.Clone(args)})
	for _, f := range s.faults {
		if f.op == op && strings.HasPrefix(target, f.target) {
			return invocationError(f.err)
		}
	}
	if err := fn(); err != nil {
		return invocationError(err)
	}
	return nil
}

func invocationError(err error) error {
	if errors.Is(err, engine.ErrInvocation) {
		return err
	}
	return fmt.Errorf("%w: %w", engine.ErrInvocation, err)
}

func importAll(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = importValue(a)
	}
	return out
}

func exportResults(vals []any, nargout int) ([]any, error) {
	if len(vals) < nargout {
		return nil, fmt.Errorf("too many output arguments: %d requested, %d available", nargout, len(vals))
	}
	out := make([]any, nargout)
	for i := range out {
		out[i] = exportValue(vals[i])
	}
	return out, nil
}
