package engine_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/simengine"
)

func TestNumericArrayRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := simengine.New("/home")
	decl := engine.Declare("Arrays").
		Func("Echo", engine.FunctionInfo{Name: "deal", Nargout: 1}, engine.TypeOf[engine.NumericArray](), engine.TypeOf[engine.NumericArray]()).
		Func("EchoPtr", engine.FunctionInfo{Name: "deal", Nargout: 1}, engine.TypeOf[*engine.NumericArray](), engine.TypeOf[engine.NumericArray]())
	p, err := engine.Link(decl, s, engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	d, _ := p.Descriptor("Echo")
	if !d.CustomMarshalling {
		t.Fatal("numeric array method should use custom marshalling")
	}

	in := engine.NumericArray{
		Real: []float64{1, 2, 3, 4, 5, 6},
		Imag: []float64{0, 1, 0, 1, 0, 1},
		Dims: []int{2, 3},
	}
	out, err := p.Invoke(ctx, "Echo", in)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("round trip changed the array: %#v", out)
	}

	real := engine.NumericArray{Real: []float64{7, 8}}
	ptr, err := p.Invoke(ctx, "EchoPtr", real)
	if err != nil {
		t.Fatalf("invoke pointer: %v", err)
	}
	got, ok := ptr.(*engine.NumericArray)
	if !ok {
		t.Fatalf("expected *NumericArray, got %T", ptr)
	}
	if !reflect.DeepEqual(got.Real, real.Real) || got.Imag != nil || !reflect.DeepEqual(got.Dims, []int{1, 2}) {
		t.Fatalf("unexpected array %#v", got)
	}
	if vars := s.Variables(); len(vars) != 0 {
		t.Fatalf("bindings left in session: %v", vars)
	}
}

func TestNumericArrayInvalidArgument(t *testing.T) {
	s := simengine.New("/home")
	decl := engine.Declare("Arrays").
		Func("Echo", engine.FunctionInfo{Name: "deal", Nargout: 1}, engine.TypeOf[any](), engine.TypeOf[engine.NumericArray]())
	p, err := engine.Link(decl, s, engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	bad := engine.NumericArray{Real: []float64{1, 2, 3}, Dims: []int{2, 2}}
	if _, err := p.Invoke(context.Background(), "Echo", bad); !errors.Is(err, engine.ErrArgument) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func TestVariableArgumentAliasesSessionVariable(t *testing.T) {
	ctx := context.Background()
	s := simengine.New("/home")
	s.RegisterDemo()
	if err := s.SetVariable(ctx, "data", []float64{2, 4, 6}); err != nil {
		t.Fatalf("set: %v", err)
	}
	decl := engine.Declare("Stats").
		Func("Sum", engine.FunctionInfo{Name: "sum", Nargout: 1}, engine.TypeOf[float64](), engine.TypeOf[any]())
	p, err := engine.Link(decl, s, engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	out, err := p.Invoke(ctx, "Sum", engine.MustVariable("data"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != 12.0 {
		t.Fatalf("unexpected sum %#v", out)
	}
	evals := s.Calls(simengine.OpEval)
	if evals[0] != "args_0 = data;" {
		t.Fatalf("variable was not aliased: %q", evals)
	}
	for _, c := range s.Transcript() {
		if c.Op == simengine.OpSetVariable && c.Target != "data" {
			t.Fatalf("variable reference must not transmit data: %+v", c)
		}
	}
	if vars := s.Variables(); !reflect.DeepEqual(vars, []string{"data"}) {
		t.Fatalf("unexpected variables %v", vars)
	}
}

func TestNewVariableValidatesName(t *testing.T) {
	for _, name := range []string{"", "1x", "a-b", "_x"} {
		if _, err := engine.NewVariable(name); err == nil {
			t.Fatalf("%q: expected invalid name", name)
		}
	}
	v, err := engine.NewVariable("x_1")
	if err != nil || v.Name() != "x_1" || v.String() != "x_1" {
		t.Fatalf("unexpected variable %v, %v", v, err)
	}
}

func TestConcurrentCallsOnOneSessionDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	s := simengine.New("/home")
	s.RegisterDemo()
	decl := engine.Declare("Stats").
		Func("Sum", engine.FunctionInfo{Name: "sum", Nargout: 1}, engine.TypeOf[float64](), engine.TypeOf[[]float64]())
	a, err := engine.Link(decl, s, engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	b, err := engine.Link(decl, s, engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("link: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 40 {
		p := a
		if i%2 == 1 {
			p = b
		}
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			out, err := p.Invoke(ctx, "Sum", []float64{n, n})
			if err != nil {
				errs <- err
				return
			}
			if out != 2*n {
				errs <- errors.New("result from another call")
			}
		}(float64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	for _, script := range s.Calls(simengine.OpEval) {
		if script != "[return_0] = sum(args_0);" && script != "clear args_0 return_0" {
			t.Fatalf("calls interleaved, saw %q", script)
		}
	}
}
