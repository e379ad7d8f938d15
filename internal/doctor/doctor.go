// Package doctor reports whether a link setup is ready to serve calls.
package doctor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"enginelink/go-backend/internal/config"
	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/manifest"
)

type Input struct {
	Config config.Config
	// ManifestPath is linked against Session when both are set.
	ManifestPath string
	Session      engine.Session
	// ListenAddr is checked for availability when set.
	ListenAddr string
	Logger     *slog.Logger
}

type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	Ready     bool      `json:"ready"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// Run performs every applicable check. A failed check makes the report not
// ready; it is not an error.
func Run(ctx context.Context, in Input) Report {
	report := Report{
		Ready:     true,
		Checks:    make([]Check, 0, 6),
		CheckedAt: time.Now().UTC(),
	}
	appendCheck := func(name string, err error) {
		c := Check{Name: name, Pass: err == nil}
		if err != nil {
			c.Reason = err.Error()
			report.Ready = false
		}
		report.Checks = append(report.Checks, c)
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appendCheck("config_valid", in.Config.Validate())
	appendCheck("temp_dir_writable", checkTempDir(in.Config.Calls.TempDir))

	if h, ok := in.Session.(healthChecker); ok {
		appendCheck("rpc_reachable", h.Health(ctx))
	}
	if strings.TrimSpace(in.ManifestPath) != "" {
		m, err := manifest.Load(in.ManifestPath)
		appendCheck("manifest_valid", err)
		if err == nil && in.Session != nil {
			appendCheck("interface_links", checkLink(m, in.Session, in.Config.EngineOptions(logger)))
		}
	}
	if strings.TrimSpace(in.ListenAddr) != "" {
		appendCheck("listen_addr_available", checkListenAddr(in.ListenAddr))
	}
	return report
}

func checkTempDir(root string) error {
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "enginelink-doctor-")
	if err != nil {
		return fmt.Errorf("temp dir %s is not writable: %w", root, err)
	}
	return os.Remove(dir)
}

func checkLink(m manifest.Manifest, s engine.Session, opts []engine.Option) error {
	p, err := engine.Link(m.Declaration(), s, opts...)
	if err != nil {
		return err
	}
	return p.Close()
}

func checkListenAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address %s is unavailable: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}
