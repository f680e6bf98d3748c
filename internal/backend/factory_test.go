package backend

import (
	"context"
	"path/filepath"
	"testing"

	"spendlog/internal/config"
	"spendlog/internal/core"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "bolt", BoltDBPath: "x.bolt"})
	if err != nil || cfg.Type != BoltBackend || cfg.BoltDBPath != "x.bolt" {
		t.Fatalf("unexpected conversion: %+v err=%v", cfg, err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Type: MemoryBackend}, true},
		{Config{Type: SQLiteBackend, SQLiteDBPath: "a.db"}, true},
		{Config{Type: SQLiteBackend}, false},
		{Config{Type: BoltBackend}, false},
		{Config{Type: "redis"}, false},
	}
	for i, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok != (err == nil) {
			t.Fatalf("case %d: ok=%v err=%v", i, tc.ok, err)
		}
	}
}

func TestFactoryCreatesEveryBackend(t *testing.T) {
	dir := t.TempDir()
	f := NewFactory(nil)
	ctx := context.Background()

	for _, cfg := range []Config{
		{Type: MemoryBackend},
		{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(dir, "e.db")},
		{Type: BoltBackend, BoltDBPath: filepath.Join(dir, "e.bolt")},
	} {
		res, err := f.CreateBackend(ctx, cfg)
		if err != nil {
			t.Fatalf("%s: %v", cfg.Type, err)
		}
		if err := res.Repository.Ping(ctx); err != nil {
			t.Fatalf("%s ping: %v", cfg.Type, err)
		}
		list, err := res.Repository.List(ctx, core.ListFilter{})
		if err != nil || len(list) != 0 {
			t.Fatalf("%s: expected empty list, got %v err=%v", cfg.Type, list, err)
		}
		if err := res.Cleanup(); err != nil {
			t.Fatalf("%s cleanup: %v", cfg.Type, err)
		}
	}

	if _, err := f.CreateBackend(ctx, Config{Type: "nope"}); err == nil {
		t.Fatalf("expected error for invalid type")
	}
}
