// Package simserver wires a simulated engine session to the JSON-RPC
// transport.
package simserver

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"enginelink/go-backend/internal/adapters/rpc"
	"enginelink/go-backend/internal/config"
	"enginelink/go-backend/internal/simengine"
)

type Options struct {
	// TokenFile receives a generated token when the server token is
	// rpc.AutoToken.
	TokenFile string
	// AllowNullOrigin admits browser clients loaded from file:// pages.
	AllowNullOrigin bool
}

// New builds the simulated session and its RPC server. The session serves
// the demo functions globally and as scripts found in the work directory.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*rpc.Server, *simengine.Session, error) {
	workDir := cfg.Server.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		workDir = wd
	}
	session := simengine.New(workDir)
	session.RegisterDemo()
	if n, err := session.RegisterScripts(workDir); err != nil {
		logger.Warn("work dir scripts not registered", "dir", workDir, "error", err)
	} else {
		logger.Info("simulated session ready", "dir", workDir, "scripts", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := rpc.NewServer(session, rpc.Options{
		Addr:            cfg.Server.Listen,
		Token:           cfg.Server.Token,
		TokenFile:       opts.TokenFile,
		RequireToken:    cfg.Server.RequireToken,
		RateLimitRPS:    cfg.Server.RateLimitRPS,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		AllowNullOrigin: opts.AllowNullOrigin,
		Logger:          logger,
		Registerer:      reg,
		Gatherer:        reg,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, session, nil
}
