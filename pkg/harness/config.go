// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

// Config carries the harness-wide knobs. Everything here is a policy the
// orchestration core deliberately does not hard-code: backend preference,
// the transient-failure retry policy, and the default deadlines.
type Config struct {
	// Engine is the preferred container engine backend.
	Engine engine.Type
	// PullRetryAttempts is the number of retries for transient pull
	// failures.
	PullRetryAttempts uint64
	// PullRetryInterval is the initial backoff interval between pull
	// retries.
	PullRetryInterval time.Duration
	// ReadyTimeout bounds readiness detection per container unless the
	// descriptor overrides it.
	ReadyTimeout time.Duration
	// StopTimeout is how long to wait for graceful container stop before
	// SIGKILL during cleanup.
	StopTimeout time.Duration
	// NetworkPrefix prefixes the per-run network and container names.
	NetworkPrefix string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Engine:            engine.TypeDocker,
		PullRetryAttempts: 3,
		PullRetryInterval: 500 * time.Millisecond,
		ReadyTimeout:      30 * time.Second,
		StopTimeout:       10 * time.Second,
		NetworkPrefix:     "orc",
	}
}

// LoadConfig resolves the harness configuration from an optional
// "orchestrator" config file in the working directory and ORC_-prefixed
// environment variables (ORC_ENGINE, ORC_READY_TIMEOUT, ...). Missing
// sources fall back to DefaultConfig.
func LoadConfig() (Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("engine", string(defaults.Engine))
	v.SetDefault("pull_retry_attempts", defaults.PullRetryAttempts)
	v.SetDefault("pull_retry_interval", defaults.PullRetryInterval)
	v.SetDefault("ready_timeout", defaults.ReadyTimeout)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("network_prefix", defaults.NetworkPrefix)

	v.SetEnvPrefix("ORC")
	v.AutomaticEnv()

	v.SetConfigName("orchestrator")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read harness config: %w", err)
		}
	}

	cfg := Config{
		Engine:            engine.Type(v.GetString("engine")),
		PullRetryAttempts: v.GetUint64("pull_retry_attempts"),
		PullRetryInterval: v.GetDuration("pull_retry_interval"),
		ReadyTimeout:      v.GetDuration("ready_timeout"),
		StopTimeout:       v.GetDuration("stop_timeout"),
		NetworkPrefix:     v.GetString("network_prefix"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns an error if the configuration is unusable.
func (c Config) Validate() error {
	switch c.Engine {
	case engine.TypeDocker, engine.TypePodman, engine.TypeDockerAPI, "":
	default:
		return fmt.Errorf("unknown engine type %q", c.Engine)
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("ready_timeout must be positive, got %v", c.ReadyTimeout)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative, got %v", c.StopTimeout)
	}
	if c.NetworkPrefix == "" {
		return fmt.Errorf("network_prefix must be non-empty")
	}
	return nil
}

// retryPolicy builds the engine retry policy for transient pull failures.
func (c Config) retryPolicy() engine.RetryPolicy {
	return engine.RetryPolicy{
		Attempts: c.PullRetryAttempts,
		Interval: c.PullRetryInterval,
	}
}
