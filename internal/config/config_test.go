package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Experiment.TotalInstances != 20 {
		t.Errorf("TotalInstances = %d, want default 20", cfg.Experiment.TotalInstances)
	}
	if cfg.Experiment.TurnsPerInstance != 50 {
		t.Errorf("TurnsPerInstance = %d, want default 50", cfg.Experiment.TurnsPerInstance)
	}
	if !cfg.Agent.SupportsPriming {
		t.Error("SupportsPriming = false, want default true")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[experiment]
total_instances = 100
turn_delay_ms = 250

[fsm]
states = 4
actions = 5
transitions = 12

[agent]
model = "test-model"
run_id = "test-model-greedy"
temperature = 0.7
supports_priming = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Experiment.TotalInstances != 100 {
		t.Errorf("TotalInstances = %d, want 100", cfg.Experiment.TotalInstances)
	}
	if cfg.Experiment.TurnsPerInstance != 50 {
		t.Errorf("TurnsPerInstance = %d, want default 50 kept", cfg.Experiment.TurnsPerInstance)
	}
	if cfg.FSM.Transitions != 12 {
		t.Errorf("Transitions = %d, want 12", cfg.FSM.Transitions)
	}
	if cfg.Agent.SupportsPriming {
		t.Error("SupportsPriming = true, want false")
	}
	if cfg.TurnDelay() != 250*time.Millisecond {
		t.Errorf("TurnDelay() = %v, want 250ms", cfg.TurnDelay())
	}
}

func TestRunIdentifierFallsBackToModel(t *testing.T) {
	cfg := Default()
	cfg.Agent.Model = "model-x"
	if got := cfg.RunIdentifier(); got != "model-x" {
		t.Errorf("RunIdentifier() = %q, want model-x", got)
	}
	cfg.Agent.RunID = "model-x-sampled"
	if got := cfg.RunIdentifier(); got != "model-x-sampled" {
		t.Errorf("RunIdentifier() = %q, want model-x-sampled", got)
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg := Default()
	cfg.Agent.APIKeyEnv = "FSM_BENCH_TEST_KEY"
	t.Setenv("FSM_BENCH_TEST_KEY", "sk-test")
	if got := cfg.APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing model")
	}
	cfg.Agent.Model = "m"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	cfg.Experiment.StepsPerTurn = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for zero steps_per_turn")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/data/x.db"); got != filepath.Join(home, "data/x.db") {
		t.Errorf("ExpandPath() = %q", got)
	}
	if got := ExpandPath("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("ExpandPath() = %q, want unchanged", got)
	}
}
