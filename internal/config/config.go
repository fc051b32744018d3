package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration. It is constructed once at
// process start and passed by reference; nothing reads the environment at
// import time.
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Git           GitConfig           `toml:"git"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedules     []ScheduleConfig    `toml:"schedules"`
}

// GeneralConfig holds storage locations and the worker count
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	PlansDir     string `toml:"plans_dir"`
	ReportsDir   string `toml:"reports_dir"`
	Workers      int    `toml:"workers"`
}

// AgentConfig holds agent execution settings. MaxIterations is the single
// source of truth for the develop/test retry bound. Timeouts are in
// seconds.
type AgentConfig struct {
	Command            string `toml:"command"`
	Model              string `toml:"model"`
	MaxIterations      int    `toml:"max_iterations"`
	PlanningTimeout    int    `toml:"planning_timeout"`
	DevelopmentTimeout int    `toml:"development_timeout"`
	TestingTimeout     int    `toml:"testing_timeout"`
}

// Timeout helpers convert the configured seconds to durations.

func (a AgentConfig) PlanningDeadline() time.Duration {
	return time.Duration(a.PlanningTimeout) * time.Second
}

func (a AgentConfig) DevelopmentDeadline() time.Duration {
	return time.Duration(a.DevelopmentTimeout) * time.Second
}

func (a AgentConfig) TestingDeadline() time.Duration {
	return time.Duration(a.TestingTimeout) * time.Second
}

// GitConfig holds the identity used for commits
type GitConfig struct {
	UserName  string `toml:"user_name"`
	UserEmail string `toml:"user_email"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig defines a recurring task created on a cron schedule
type ScheduleConfig struct {
	Name        string `toml:"name"`
	ProjectID   string `toml:"project_id"`
	Cron        string `toml:"cron"`
	Description string `toml:"description"`
	Priority    string `toml:"priority"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".taskpilot")
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(base, "taskpilot.db"),
			PlansDir:     filepath.Join(base, "plans"),
			ReportsDir:   filepath.Join(base, "reports"),
			Workers:      2,
		},
		Agent: AgentConfig{
			Command:            "claude",
			MaxIterations:      3,
			PlanningTimeout:    300,
			DevelopmentTimeout: 1800,
			TestingTimeout:     600,
		},
		Git: GitConfig{
			UserName:  "Taskpilot",
			UserEmail: "taskpilot@localhost",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
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

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.PlansDir = ExpandPath(cfg.General.PlansDir)
	cfg.General.ReportsDir = ExpandPath(cfg.General.ReportsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks config values that would otherwise fail deep inside the
// pipeline.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must be >= 0, got %d", c.Agent.MaxIterations)
	}
	if c.General.Workers < 1 {
		return fmt.Errorf("general.workers must be >= 1, got %d", c.General.Workers)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	return nil
}

// Addr returns the host:port the API server listens on
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
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
	return filepath.Join(home, ".config", "taskpilot", "config.toml")
}
