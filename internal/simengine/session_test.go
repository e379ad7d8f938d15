package simengine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"enginelink/go-backend/internal/engine"
)

func TestEvalCallAssignsAllReturns(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	s.RegisterDemo()
	if err := s.SetVariable(ctx, "args_0", []float64{3, 9, 4}); err != nil {
		t.Fatalf("set variable: %v", err)
	}
	if err := s.Eval(ctx, "[return_0, return_1] = max(args_0);"); err != nil {
		t.Fatalf("eval: %v", err)
	}
	v, err := s.GetVariable(ctx, "return_0")
	if err != nil {
		t.Fatalf("get return_0: %v", err)
	}
	if !reflect.DeepEqual(v, []float64{9}) {
		t.Fatalf("unexpected return_0: %#v", v)
	}
	idx, _ := s.GetVariable(ctx, "return_1")
	if !reflect.DeepEqual(idx, []float64{2}) {
		t.Fatalf("unexpected return_1: %#v", idx)
	}
}

func TestEvalTooManyOutputs(t *testing.T) {
	s := New("/work")
	s.RegisterDemo()
	err := s.Eval(context.Background(), "[a, b] = sum([1 2]);")
	if !errors.Is(err, engine.ErrInvocation) {
		t.Fatalf("expected invocation error, got %v", err)
	}
}

func TestClearRemovesOnlyNamedVariables(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	for _, name := range []string{"a", "b", "keep"} {
		if err := s.SetVariable(ctx, name, 1.0); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	if err := s.Eval(ctx, "clear a b"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := s.Variables(); !reflect.DeepEqual(got, []string{"keep"}) {
		t.Fatalf("unexpected variables: %v", got)
	}
	who, err := s.ReturningEval(ctx, "who", 1)
	if err != nil {
		t.Fatalf("who: %v", err)
	}
	if !reflect.DeepEqual(who, []any{[]string{"keep"}}) {
		t.Fatalf("unexpected who: %#v", who)
	}
}

func TestDirectoryScopedFunctions(t *testing.T) {
	ctx := context.Background()
	s := New("/home")
	s.RegisterIn("/scripts", "double", func(args []any, _ int) ([]any, error) {
		xs, err := Numbers(args[0])
		if err != nil {
			return nil, err
		}
		return []any{xs[0] * 2}, nil
	})
	if _, err := s.ReturningFeval(ctx, "double", 1, 2.0); err == nil {
		t.Fatal("expected undefined function outside its directory")
	}
	if err := s.Feval(ctx, "cd", "/scripts"); err != nil {
		t.Fatalf("cd: %v", err)
	}
	out, err := s.ReturningFeval(ctx, "double", 1, 2.0)
	if err != nil {
		t.Fatalf("double: %v", err)
	}
	if !reflect.DeepEqual(out, []any{[]float64{4}}) {
		t.Fatalf("unexpected result: %#v", out)
	}
	pwd, err := s.ReturningFeval(ctx, "pwd", 1)
	if err != nil || !reflect.DeepEqual(pwd, []any{"/scripts"}) {
		t.Fatalf("unexpected pwd %#v, err=%v", pwd, err)
	}
}

func TestNumericBuiltins(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	if err := s.SetVariable(ctx, "x", []float64{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Eval(ctx, "x = reshape(complex(x(1:4), x(5:end)), [2 2]);"); err != nil {
		t.Fatalf("reshape: %v", err)
	}
	cases := []struct {
		script string
		want   any
	}{
		{"size(x)", []float64{2, 2}},
		{"isreal(x)", false},
		{"real(x(:))", []float64{1, 2, 3, 4}},
		{"imag(x(:))", []float64{5, 6, 7, 8}},
		{"numel(x)", []float64{4}},
	}
	for _, tc := range cases {
		out, err := s.ReturningEval(ctx, tc.script, 1)
		if err != nil {
			t.Fatalf("%s: %v", tc.script, err)
		}
		if !reflect.DeepEqual(out[0], tc.want) {
			t.Fatalf("%s = %#v, want %#v", tc.script, out[0], tc.want)
		}
	}
}

func TestReshapeRejectsWrongSize(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	_ = s.SetVariable(ctx, "x", []float64{1, 2, 3})
	if err := s.Eval(ctx, "x = reshape(x, [2 2]);"); err == nil {
		t.Fatal("expected reshape error")
	}
}

func TestFaultInjectionAndTranscript(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	boom := errors.New("boom")
	s.Fail(OpEval, "clear", boom)
	err := s.Eval(ctx, "clear a")
	if !errors.Is(err, boom) || !errors.Is(err, engine.ErrInvocation) {
		t.Fatalf("expected wrapped fault, got %v", err)
	}
	if err := s.Eval(ctx, "a = 1;"); err != nil {
		t.Fatalf("unmatched target should succeed: %v", err)
	}
	s.ClearFaults()
	if err := s.Eval(ctx, "clear a"); err != nil {
		t.Fatalf("fault should be cleared: %v", err)
	}
	if got := s.Calls(OpEval); !reflect.DeepEqual(got, []string{"clear a", "a = 1;", "clear a"}) {
		t.Fatalf("unexpected eval calls: %v", got)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New("/work")
	if err := s.Eval(ctx, "a = 1;"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if len(s.Transcript()) != 0 {
		t.Fatal("canceled call must not be recorded")
	}
}

func TestSetVariableRejectsInvalidName(t *testing.T) {
	s := New("/work")
	if err := s.SetVariable(context.Background(), "1x", 1.0); !errors.Is(err, engine.ErrInvocation) {
		t.Fatalf("expected invocation error, got %v", err)
	}
}

func TestStringsPassThrough(t *testing.T) {
	ctx := context.Background()
	s := New("/work")
	s.RegisterDemo()
	out, err := s.ReturningEval(ctx, "upper('it''s')", 1)
	if err != nil {
		t.Fatalf("upper: %v", err)
	}
	if out[0] != "IT'S" {
		t.Fatalf("unexpected result %#v", out[0])
	}
}
