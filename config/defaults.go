package config

import (
	"fmt"
	"time"
)

// DefaultConfig returns the configuration used when nothing else is
// provided.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root: "./workspaces",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./loom.db",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Engine: EngineConfig{
			MaxSubWorkflowDepth: 10,
		},
		API: APIConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			CORSOrigins:    []string{"*"},
			MetricsNS:      "loom",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must not be empty")
	}
	if c.Engine.MaxSubWorkflowDepth <= 0 {
		return fmt.Errorf("engine.max_sub_workflow_depth must be positive")
	}
	if c.API.RateLimitRPS < 0 || c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api rate limit values must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
