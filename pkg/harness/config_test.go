// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"testing"
	"time"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Engine != engine.TypeDocker {
		t.Errorf("Engine = %v", cfg.Engine)
	}
	if cfg.ReadyTimeout != 30*time.Second {
		t.Errorf("ReadyTimeout = %v", cfg.ReadyTimeout)
	}
	if cfg.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %v", cfg.StopTimeout)
	}
	if cfg.PullRetryAttempts != 3 || cfg.PullRetryInterval != 500*time.Millisecond {
		t.Errorf("retry policy = %d/%v", cfg.PullRetryAttempts, cfg.PullRetryInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "podman", mutate: func(c *Config) { c.Engine = engine.TypePodman }},
		{name: "docker api", mutate: func(c *Config) { c.Engine = engine.TypeDockerAPI }},
		{name: "unknown engine", mutate: func(c *Config) { c.Engine = "lxc" }, wantErr: true},
		{name: "zero ready timeout", mutate: func(c *Config) { c.ReadyTimeout = 0 }, wantErr: true},
		{name: "negative stop timeout", mutate: func(c *Config) { c.StopTimeout = -time.Second }, wantErr: true},
		{name: "empty prefix", mutate: func(c *Config) { c.NetworkPrefix = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg != DefaultConfig() {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("ORC_ENGINE", "podman")
	t.Setenv("ORC_READY_TIMEOUT", "90s")
	t.Setenv("ORC_NETWORK_PREFIX", "ci")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Engine != engine.TypePodman {
		t.Errorf("Engine = %v, want podman from environment", cfg.Engine)
	}
	if cfg.ReadyTimeout != 90*time.Second {
		t.Errorf("ReadyTimeout = %v, want 90s", cfg.ReadyTimeout)
	}
	if cfg.NetworkPrefix != "ci" {
		t.Errorf("NetworkPrefix = %q, want ci", cfg.NetworkPrefix)
	}
	// Untouched keys keep their defaults.
	if cfg.StopTimeout != DefaultConfig().StopTimeout {
		t.Errorf("StopTimeout = %v", cfg.StopTimeout)
	}
}

func TestLoadConfig_RejectsBadEngine(t *testing.T) {
	t.Setenv("ORC_ENGINE", "hyperv")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for unknown engine")
	}
}
