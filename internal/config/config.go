package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Experiment    ExperimentConfig    `toml:"experiment"`
	FSM           FSMConfig           `toml:"fsm"`
	Agent         AgentConfig         `toml:"agent"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// ExperimentConfig holds the experiment dimensions and pacing
type ExperimentConfig struct {
	DatabasePath     string `toml:"database_path"`
	TotalInstances   int    `toml:"total_instances"`
	TurnsPerInstance int    `toml:"turns_per_instance"`
	StepsPerTurn     int    `toml:"steps_per_turn"`
	MaxWorkers       int    `toml:"max_workers"`
	TurnDelayMS      int    `toml:"turn_delay_ms"`
}

// FSMConfig holds the machine dimensions used when generating new instances
type FSMConfig struct {
	States      int `toml:"states"`
	Actions     int `toml:"actions"`
	Transitions int `toml:"transitions"`
}

// AgentConfig holds the agent-under-test settings. The API key is read from
// the environment variable named by APIKeyEnv so it never lives in the file.
type AgentConfig struct {
	BaseURL         string  `toml:"base_url"`
	Model           string  `toml:"model"`
	RunID           string  `toml:"run_id"`
	Temperature     float64 `toml:"temperature"`
	SupportsPriming bool    `toml:"supports_priming"`
	APIKeyEnv       string  `toml:"api_key_env"`
	// ExtraBody is merged into every completion request, for provider
	// switches like disabling a thinking mode.
	ExtraBody map[string]interface{} `toml:"extra_body"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
	Desktop      bool   `toml:"desktop"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Experiment: ExperimentConfig{
			DatabasePath:     filepath.Join(home, ".fsm-bench", "experiment.db"),
			TotalInstances:   20,
			TurnsPerInstance: 50,
			StepsPerTurn:     1,
			MaxWorkers:       4,
			TurnDelayMS:      1000,
		},
		FSM: FSMConfig{
			States:      2,
			Actions:     2,
			Transitions: 4,
		},
		Agent: AgentConfig{
			BaseURL:         "https://api.openai.com/v1",
			Temperature:     0.0,
			SupportsPriming: true,
			APIKeyEnv:       "FSM_BENCH_API_KEY",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Experiment.DatabasePath = ExpandPath(cfg.Experiment.DatabasePath)
	return cfg, nil
}

// Validate checks the settings a run actually needs.
func (c *Config) Validate() error {
	if c.Agent.Model == "" {
		return fmt.Errorf("agent.model is required")
	}
	if c.Experiment.TotalInstances < 1 {
		return fmt.Errorf("experiment.total_instances must be positive")
	}
	if c.Experiment.TurnsPerInstance < 1 {
		return fmt.Errorf("experiment.turns_per_instance must be positive")
	}
	if c.Experiment.StepsPerTurn < 1 {
		return fmt.Errorf("experiment.steps_per_turn must be positive")
	}
	if c.Experiment.MaxWorkers < 1 {
		return fmt.Errorf("experiment.max_workers must be positive")
	}
	return nil
}

// RunIdentifier returns the configured run identifier, falling back to the
// model name. Distinct decoding configurations of one model can set run_id
// explicitly to keep their bookkeeping separate.
func (c *Config) RunIdentifier() string {
	if c.Agent.RunID != "" {
		return c.Agent.RunID
	}
	return c.Agent.Model
}

// APIKey reads the agent API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Agent.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Agent.APIKeyEnv)
}

// TurnDelay returns the configured inter-turn delay.
func (c *Config) TurnDelay() time.Duration {
	return time.Duration(c.Experiment.TurnDelayMS) * time.Millisecond
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "fsm-bench", "config.toml")
}
