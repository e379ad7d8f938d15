package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"enginelink/go-backend/internal/config"
	"enginelink/go-backend/internal/doctor"
	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/manifest"
	"enginelink/go-backend/internal/wire"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitConfigFailed = 20
	exitLinkFailed   = 30
	exitCallFailed   = 40
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "check":
		runCheck(os.Args[2:])
	case "call":
		runCall(os.Args[2:])
	case "doctor":
		runDoctor(os.Args[2:])
	case "version":
		writeStdoutf(exitInvalidInput, "enginelink version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		os.Exit(exitOK)
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "interface manifest path")
	configPath := fs.String("config", "", "config path")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*manifestPath) == "" {
		writeStderrln("manifest is required", exitInvalidInput)
	}

	m, proxy := link(*configPath, *manifestPath)
	methods := make([]map[string]any, 0, len(m.Functions))
	for _, name := range proxy.Methods() {
		d, _ := proxy.Descriptor(name)
		methods = append(methods, describe(d))
	}
	out := map[string]any{
		"interface": proxy.Name(),
		"link_id":   proxy.ID(),
		"methods":   methods,
	}
	if err := proxy.Close(); err != nil {
		writeStderrln(err.Error(), exitLinkFailed)
	}
	if err := printJSON(out); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	os.Exit(exitOK)
}

func runCall(args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "interface manifest path")
	configPath := fs.String("config", "", "config path")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if strings.TrimSpace(*manifestPath) == "" || fs.NArg() < 1 {
		writeStderrln("usage: enginelink call --manifest <path> <method> [args...]", exitInvalidInput)
	}
	method := fs.Arg(0)

	m, proxy := link(*configPath, *manifestPath)
	fn, ok := m.Function(method)
	if !ok {
		writeStderrln(fmt.Sprintf("method %s is not declared in %s", method, *manifestPath), exitInvalidInput)
	}
	callArgs, err := fn.DecodeArgs(fs.Args()[1:])
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	result, callErr := proxy.Invoke(ctx, method, callArgs...)
	closeErr := proxy.Close()
	if callErr != nil {
		code := exitCallFailed
		if errors.Is(callErr, engine.ErrArgument) {
			code = exitInvalidInput
		}
		writeStderrln(callErr.Error(), code)
	}
	if closeErr != nil {
		writeStderrln(closeErr.Error(), exitCallFailed)
	}
	out := map[string]any{"method": method}
	if fn.Returns != "" {
		out["result"] = printable(result)
	}
	if err := printJSON(out); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	os.Exit(exitOK)
}

func runDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "interface manifest path (optional)")
	configPath := fs.String("config", "", "config path")
	listenAddr := fs.String("listen-addr", "", "check that a simulator could listen here (optional)")
	asJSON := fs.Bool("json", false, "emit json")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		writeStderrln(err.Error(), exitConfigFailed)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		writeStderrln(err.Error(), exitConfigFailed)
	}
	in := doctor.Input{Config: cfg, ManifestPath: *manifestPath, ListenAddr: *listenAddr, Logger: logger}
	var m manifest.Manifest
	if *manifestPath != "" {
		if loaded, err := manifest.Load(*manifestPath); err == nil {
			m = loaded
		}
	}
	if session, err := openSession(cfg, m, logger); err == nil {
		in.Session = session
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	report := doctor.Run(ctx, in)
	if *asJSON {
		if err := printJSON(report); err != nil {
			writeStderrln(err.Error(), exitInvalidInput)
		}
	} else {
		writeStdoutf(exitInvalidInput, "ready=%v checks=%d\n", report.Ready, len(report.Checks))
		for _, c := range report.Checks {
			if c.Pass {
				writeStdoutf(exitInvalidInput, "[PASS] %s\n", c.Name)
			} else {
				writeStdoutf(exitInvalidInput, "[FAIL] %s: %s\n", c.Name, c.Reason)
			}
		}
	}
	if report.Ready {
		os.Exit(exitOK)
	}
	os.Exit(exitLinkFailed)
}

// link loads the config and manifest and links the interface against the
// configured session.
func link(configPath, manifestPath string) (manifest.Manifest, *engine.Proxy) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		writeStderrln(err.Error(), exitConfigFailed)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		writeStderrln(err.Error(), exitConfigFailed)
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	session, err := openSession(cfg, m, logger)
	if err != nil {
		writeStderrln(err.Error(), exitConfigFailed)
	}
	proxy, err := engine.Link(m.Declaration(), session, cfg.EngineOptions(logger)...)
	if err != nil {
		writeStderrln(err.Error(), exitLinkFailed)
	}
	return m, proxy
}

func describe(d engine.Descriptor) map[string]any {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = typeName(p)
	}
	out := map[string]any{
		"method":   d.Method,
		"function": d.Name,
		"nargout":  d.Nargout,
		"params":   params,
		"returns":  typeName(d.Return),
	}
	if d.ByPath() {
		out["dir"] = d.Dir
	}
	if d.Variadic {
		out["variadic"] = true
	}
	if d.CustomMarshalling {
		out["custom_marshalling"] = true
	}
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

// printable renders a result through the wire codec so engine types stay
// distinguishable in the JSON output. Values the codec does not know are
// printed as plain JSON.
func printable(v any) any {
	if r, ok := v.(engine.Results); ok {
		v = []any(r)
	}
	enc, err := wire.Encode(v)
	if err != nil {
		return v
	}
	return enc
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "enginelink <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  check   --manifest <path> [--config path]")
	writeStdoutln(exitInvalidInput, "  call    --manifest <path> [--config path] <method> [yaml args...]")
	writeStdoutln(exitInvalidInput, "  doctor  [--manifest path] [--config path] [--listen-addr host:port] [--json]")
	writeStdoutln(exitInvalidInput, "  version")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
