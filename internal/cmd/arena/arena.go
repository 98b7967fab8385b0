// Package arena parses arena command flags and launches the arena runtime.
package arena

import (
	"context"
	"flag"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/quorum.games/internal/platform/cmd"
	arenaserver "github.com/louisbranch/quorum.games/internal/services/arena/app"
)

// Config holds arena command configuration.
type Config struct {
	Port          int           `env:"QUORUM_GAMES_ARENA_PORT" envDefault:"8093"`
	DBPath        string        `env:"QUORUM_GAMES_ARENA_DB_PATH" envDefault:"data/arena.db"`
	Divisions     string        `env:"QUORUM_GAMES_ARENA_DIVISIONS" envDefault:"standard"`
	Workers       int           `env:"QUORUM_GAMES_ARENA_WORKERS" envDefault:"2"`
	QueueSize     int           `env:"QUORUM_GAMES_ARENA_QUEUE_SIZE" envDefault:"64"`
	CallTimeout   time.Duration `env:"QUORUM_GAMES_ARENA_CALL_TIMEOUT" envDefault:"2s"`
	MatchInterval time.Duration `env:"QUORUM_GAMES_ARENA_MATCH_INTERVAL" envDefault:"2s"`
	InitialWindow int           `env:"QUORUM_GAMES_ARENA_INITIAL_WINDOW" envDefault:"50"`
	WindowGrowth  int           `env:"QUORUM_GAMES_ARENA_WINDOW_GROWTH" envDefault:"5"`
	MaxWindow     int           `env:"QUORUM_GAMES_ARENA_MAX_WINDOW" envDefault:"400"`
	ForceTimeout  time.Duration `env:"QUORUM_GAMES_ARENA_FORCE_TIMEOUT" envDefault:"2m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The arena health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The arena SQLite database path")
	fs.StringVar(&cfg.Divisions, "divisions", cfg.Divisions, "Comma-separated rating divisions to match in")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent match workers")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Pending match queue capacity")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Per-call agent timeout")
	fs.DurationVar(&cfg.MatchInterval, "match-interval", cfg.MatchInterval, "Matchmaking cycle period per division")
	fs.IntVar(&cfg.InitialWindow, "initial-window", cfg.InitialWindow, "Initial rating window for fresh entrants")
	fs.IntVar(&cfg.WindowGrowth, "window-growth", cfg.WindowGrowth, "Rating window growth per second of wait")
	fs.IntVar(&cfg.MaxWindow, "max-window", cfg.MaxWindow, "Rating window cap")
	fs.DurationVar(&cfg.ForceTimeout, "force-timeout", cfg.ForceTimeout, "Wait after which a match is forced")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DivisionList splits the configured comma-separated division list.
func (c Config) DivisionList() []string {
	var divisions []string
	for _, division := range strings.Split(c.Divisions, ",") {
		if division = strings.TrimSpace(division); division != "" {
			divisions = append(divisions, division)
		}
	}
	return divisions
}

// Run starts the arena runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceArena, func(context.Context) error {
		return arenaserver.Run(ctx, arenaserver.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			Divisions:     cfg.DivisionList(),
			Workers:       cfg.Workers,
			QueueSize:     cfg.QueueSize,
			CallTimeout:   cfg.CallTimeout,
			MatchInterval: cfg.MatchInterval,
			InitialWindow: cfg.InitialWindow,
			WindowGrowth:  cfg.WindowGrowth,
			MaxWindow:     cfg.MaxWindow,
			ForceTimeout:  cfg.ForceTimeout,
		})
	})
}
