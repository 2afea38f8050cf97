package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/EdisonARUI/Membership-MVP-sub000/internal/config"
	"github.com/EdisonARUI/Membership-MVP-sub000/internal/daemon"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides config)")
	configPath := flag.String("config", "", "Path to zklogind.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for encrypted key material (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("zklogind version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromPath(*configPath)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if cfg.SaltServiceURL == "" || cfg.ProverURL == "" {
		log.Fatal("zklogind requires saltServiceUrl and proverUrl (config or ZKLOGIN_* env)")
	}
	if cfg.DataDir != "" && cfg.StoreSecret == "" {
		log.Fatal("zklogind requires storeSecret when dataDir persistence is enabled")
	}

	srv, err := daemon.NewServer(cfg)
	if err != nil {
		log.Fatalf("zklogind failed to initialize: %v", err)
	}

	log.Println("zklogind starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("zklogind failed: %v", err)
	}
	log.Println("zklogind stopped")
}
