package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

type executor struct {
	session Session
	lock    sync.Locker
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *Metrics
}

// call runs one remote invocation of d with args already prepared by the
// proxy. Results are raw values, or Extractors for custom marshalled
// return slots; there are exactly d.Nargout of them.
func (e *executor) call(ctx context.Context, d *Descriptor, args []any) (results []any, err error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	started := time.Now()
	e.lock.Lock()
	defer e.lock.Unlock()
	defer func() { e.metrics.observeCall(d.Name, started, err) }()

	restoreDir := ""
	if d.Dir != "" {
		pwd, err := e.pwd(ctx)
		if err != nil {
			return nil, err
		}
		if pwd != d.Dir {
			if err := e.session.Feval(ctx, "cd", d.Dir); err != nil {
				return nil, err
			}
			restoreDir = pwd
		}
	}

	var bindings []string
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		err = multierr.Append(err, e.cleanup(cleanupCtx, d, bindings, restoreDir))
	}()

	who, err := e.session.ReturningEval(ctx, "who", 1)
	if err != nil {
		return nil, err
	}
	if len(who) != 1 {
		return nil, fmt.Errorf("who returned %d values", len(who))
	}
	taken, err := takenSet(who[0])
	if err != nil {
		return nil, err
	}
	argNames := GenerateNames(argPrefix, len(args), taken)
	retNames := GenerateNames(returnPrefix, d.Nargout, taken)
	bindings = append(append(bindings, argNames...), retNames...)

	for i, arg := range args {
		if inst, ok := arg.(Installer); ok {
			err = inst.Install(ctx, e.session, argNames[i])
		} else {
			err = e.session.SetVariable(ctx, argNames[i], arg)
		}
		if err != nil {
			return nil, err
		}
	}

	script := callScript(d.Name, argNames, retNames)
	e.logger.Debug("engine call", "function", d.Name, "method", d.Method, "script", script)
	if err := e.session.Eval(ctx, script); err != nil {
		return nil, err
	}

	results = make([]any, len(retNames))
	if elem, ok := customElem(d.Return); ok {
		for i, name := range retNames {
			ext, err := newExtractor(elem)
			if err != nil {
				return nil, err
			}
			if err := ext.Extract(ctx, e.session, name); err != nil {
				return nil, err
			}
			results[i] = ext
		}
		return results, nil
	}
	for i, name := range retNames {
		v, err := e.session.GetVariable(ctx, name)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// cleanup clears the temporary bindings and restores the working directory.
// Both steps are attempted regardless of the other's outcome.
func (e *executor) cleanup(ctx context.Context, d *Descriptor, bindings []string, restoreDir string) error {
	var err error
	if len(bindings) > 0 {
		if cerr := e.session.Eval(ctx, clearScript(bindings)); cerr != nil {
			err = multierr.Append(err, e.cleanupFailed(d, StageClear, cerr))
		}
	}
	if restoreDir != "" {
		if cerr := e.session.Feval(ctx, "cd", restoreDir); cerr != nil {
			err = multierr.Append(err, e.cleanupFailed(d, StageRestoreDirectory, cerr))
		}
	}
	return err
}

func (e *executor) cleanupFailed(d *Descriptor, stage CleanupStage, err error) error {
	e.logger.Warn("engine cleanup failed", "function", d.Name, "stage", string(stage), "error", err)
	e.metrics.observeCleanupFailure(d.Name, stage)
	return &CleanupError{Function: d.Name, Stage: stage, Err: err}
}

func (e *executor) pwd(ctx context.Context) (string, error) {
	out, err := e.session.ReturningFeval(ctx, "pwd", 1)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("pwd returned %d values", len(out))
	}
	dir, ok := out[0].(string)
	if !ok {
		return "", &unexpectedValueError{what: "pwd", value: out[0]}
	}
	return dir, nil
}

// callScript builds "[r0, r1] = name(a0, a1);", omitting the return clause
// when no values are requested.
func callScript(name string, args, rets []string) string {
	var b strings.Builder
	if len(rets) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(rets, ", "))
		b.WriteString("] = ")
	}
	b.WriteString(name)
	b.WriteString("(")
	b.WriteString(strings.Join(args, ", "))
	b.WriteString(");")
	return b.String()
}

func clearScript(names []string) string {
	return "clear " + strings.Join(names, " ")
}
