package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"enginelink/go-backend/internal/adapters/rpcclient"
	"enginelink/go-backend/internal/config"
	"enginelink/go-backend/internal/engine"
	"enginelink/go-backend/internal/manifest"
	"enginelink/go-backend/internal/simengine"
)

// openSession returns the session the configured transport points at. The
// sim transport runs an in-process simulated engine that finds the demo
// functions as scripts in the manifest's directories.
func openSession(cfg config.Config, m manifest.Manifest, logger *slog.Logger) (engine.Session, error) {
	if cfg.Transport == config.TransportRPC {
		logger.Debug("using remote session", "url", cfg.RPC.URL)
		return rpcclient.New(cfg.RPC.URL, rpcclient.Options{Token: cfg.RPC.Token, Timeout: cfg.RPC.Timeout})
	}

	workDir := cfg.Server.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workDir = wd
	}
	s := simengine.New(workDir)
	s.RegisterDemo()
	dirs := []string{}
	if m.Dir != "" {
		dirs = append(dirs, m.Dir)
	}
	for _, f := range m.Functions {
		if f.Info.AbsolutePath != "" {
			dirs = append(dirs, filepath.Dir(f.Info.AbsolutePath))
		}
	}
	for _, dir := range dirs {
		n, err := s.RegisterScripts(dir)
		if err != nil {
			logger.Debug("no simulated scripts", "dir", dir, "error", err)
			continue
		}
		logger.Debug("registered simulated scripts", "dir", dir, "count", n)
	}
	return s, nil
}
