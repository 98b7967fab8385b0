package arena

import (
	"flag"
	"testing"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("arena", flag.ContinueOnError)
	t.Setenv("QUORUM_GAMES_ARENA_PORT", "9093")
	t.Setenv("QUORUM_GAMES_ARENA_DIVISIONS", "bronze,gold")

	cfg, err := ParseConfig(fs, []string{"-workers", "4", "-db-path", "/tmp/arena.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9093 {
		t.Fatalf("port = %d, want 9093", cfg.Port)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers = %d, want 4", cfg.Workers)
	}
	if cfg.DBPath != "/tmp/arena.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	divisions := cfg.DivisionList()
	if len(divisions) != 2 || divisions[0] != "bronze" || divisions[1] != "gold" {
		t.Fatalf("divisions = %v", divisions)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("arena", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8093 {
		t.Fatalf("port = %d, want 8093", cfg.Port)
	}
	if cfg.DBPath != "data/arena.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if got := cfg.DivisionList(); len(got) != 1 || got[0] != "standard" {
		t.Fatalf("divisions = %v", got)
	}
}

func TestDivisionList_TrimsAndSkipsEmpty(t *testing.T) {
	cfg := Config{Divisions: " gold , , silver "}
	got := cfg.DivisionList()
	if len(got) != 2 || got[0] != "gold" || got[1] != "silver" {
		t.Fatalf("divisions = %v", got)
	}
}
