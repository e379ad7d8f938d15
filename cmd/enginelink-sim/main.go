package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"enginelink/go-backend/internal/composition/simserver"
	"enginelink/go-backend/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to enginelink.yaml (optional)")
	listen := flag.String("listen", "", "JSON-RPC listen address override")
	workDir := flag.String("work-dir", "", "Initial session directory (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Engine-RPC-Token; \"auto\" generates one")
	tokenFile := flag.String("token-file", "", "File receiving a generated token (optional)")
	allowNullOrigin := flag.Bool("allow-null-origin", false, "Accept requests from file:// pages")
	flag.Parse()
	if *showVersion {
		fmt.Printf("enginelink-sim version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("ENGINELINK_RPC_TOKEN", *rpcToken)
	}
	if *listen != "" {
		_ = os.Setenv("ENGINELINK_LISTEN", *listen)
	}
	if *workDir != "" {
		_ = os.Setenv("ENGINELINK_WORK_DIR", *workDir)
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Fatalf("enginelink-sim config: %v", err)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		log.Fatalf("enginelink-sim logger: %v", err)
	}
	srv, _, err := simserver.New(cfg, logger, simserver.Options{
		TokenFile:       *tokenFile,
		AllowNullOrigin: *allowNullOrigin,
	})
	if err != nil {
		log.Fatalf("enginelink-sim failed to initialize: %v", err)
	}

	logger.Info("enginelink-sim starting", "version", version)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("enginelink-sim failed: %v", err)
	}
	logger.Info("enginelink-sim stopped")
}
