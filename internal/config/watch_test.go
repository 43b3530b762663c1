package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/doridoridoriand/classwatch/internal/log"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, CLIOverrides{}, log.Discard(), func(cfg *Config) { changes <- cfg })
	}()

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)

	// an invalid write is skipped
	if err := os.WriteFile(path, []byte("feed: [broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	updated := minimalConfig + "monitor:\n  interval: 3s\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Monitor.Interval == 3*time.Second {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no reload observed")
		}
	}
}

func TestWatchMissingFile(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/classwatch.yaml", CLIOverrides{}, log.Discard(), func(*Config) {})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWatchSurvivesRenameSaves(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, CLIOverrides{}, log.Discard(), func(cfg *Config) { changes <- cfg })
	}()
	time.Sleep(50 * time.Millisecond)

	// editors write a temp file and rename it over the original
	save := func(content string) {
		tmp := filepath.Join(filepath.Dir(path), ".classwatch.yaml.swp")
		if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("rename: %v", err)
		}
	}
	waitFor := func(want time.Duration) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case cfg := <-changes:
				if cfg.Monitor.Interval == want {
					return
				}
			case <-deadline:
				t.Fatalf("no reload with interval %v observed", want)
			}
		}
	}

	save(minimalConfig + "monitor:\n  interval: 3s\n")
	waitFor(3 * time.Second)
	save(minimalConfig + "monitor:\n  interval: 4s\n")
	waitFor(4 * time.Second)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, path, CLIOverrides{}, log.Discard(), func(cfg *Config) { changes <- cfg })
	}()
	time.Sleep(50 * time.Millisecond)

	other := filepath.Join(filepath.Dir(path), "notes.txt")
	if err := os.WriteFile(other, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-changes:
		t.Fatalf("reload triggered by an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
