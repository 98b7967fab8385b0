// Package app wires arena runtime dependencies and owns the process
// lifecycle: sqlite storage, the match scheduler, per-division matchmaking
// loops, and a gRPC health endpoint.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/quorum.games/internal/platform/timeouts"
	"github.com/louisbranch/quorum.games/internal/services/arena/agent/luaagent"
	"github.com/louisbranch/quorum.games/internal/services/arena/matchmaker"
	"github.com/louisbranch/quorum.games/internal/services/arena/scheduler"
	arenasqlite "github.com/louisbranch/quorum.games/internal/services/arena/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls arena startup and loop behavior.
type RuntimeConfig struct {
	Port          int
	DBPath        string
	Divisions     []string
	Workers       int
	QueueSize     int
	CallTimeout   time.Duration
	MatchInterval time.Duration
	InitialWindow int
	WindowGrowth  int
	MaxWindow     int
	ForceTimeout  time.Duration
}

const (
	defaultArenaPort = 8093
	defaultArenaDB   = "data/arena.db"
)

// Run starts arena runtime dependencies and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultArenaPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultArenaDB
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create arena storage dir: %w", err)
		}
	}

	store, err := arenasqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open arena sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close arena sqlite store: %v", closeErr)
		}
	}()

	sched := scheduler.New(store, luaagent.Factory{}, scheduler.Config{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		CallTimeout: cfg.CallTimeout,
	})
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if stopErr := sched.Stop(stopCtx); stopErr != nil {
			log.Printf("stop scheduler: %v", stopErr)
		}
	}()

	maker := matchmaker.New(sched, store, matchmaker.Config{
		Interval:      cfg.MatchInterval,
		InitialWindow: cfg.InitialWindow,
		WindowGrowth:  cfg.WindowGrowth,
		MaxWindow:     cfg.MaxWindow,
		ForceTimeout:  cfg.ForceTimeout,
	}, nil)
	for _, division := range cfg.Divisions {
		division = strings.TrimSpace(division)
		if division == "" {
			continue
		}
		maker.Start(division)
		log.Printf("matchmaking division %s started", division)
	}
	defer maker.StopAll()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on arena port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("arena.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("arena server listening at %v", listener.Addr())
	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		serveErr <- nil
		return fmt.Errorf("arena server: %w", err)
	}
}
