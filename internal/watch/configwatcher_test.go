package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcher_FiresOnceAfterBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[experiment]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 4)
	cw, err := NewConfigWatcher(path, func(p string) { fired <- p })
	if err != nil {
		t.Fatalf("NewConfigWatcher() error = %v", err)
	}
	defer cw.Stop()
	cw.SetDebounce(50 * time.Millisecond)
	cw.Start(context.Background())

	// A burst of writes collapses into one callback.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("[experiment]\ntotal_instances = 10\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-fired:
		if filepath.Clean(got) != filepath.Clean(path) {
			t.Errorf("callback path = %q, want %q", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	select {
	case <-fired:
		t.Error("burst produced more than one callback")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan string, 1)
	cw, err := NewConfigWatcher(path, func(p string) { fired <- p })
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Stop()
	cw.SetDebounce(20 * time.Millisecond)
	cw.Start(context.Background())

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Error("callback fired for a sibling file")
	case <-time.After(200 * time.Millisecond):
	}
}
