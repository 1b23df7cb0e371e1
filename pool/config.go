package pool

import (
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
)

// Defaults applied by Config.Validate. DefaultIdleTimeout and
// DefaultMaxLifetime are not applied: a zero IdleTimeout or MaxLifetime
// stays zero and disables that retirement.
const (
	DefaultConnectionTimeout  = 30 * time.Second
	DefaultValidationTimeout  = 5 * time.Second
	DefaultIdleTimeout        = 10 * time.Minute
	DefaultMaxLifetime        = 30 * time.Minute
	DefaultMaximumPoolSize    = 10
	DefaultAliveBypassWindow  = 500 * time.Millisecond
	DefaultHousekeepingPeriod = 30 * time.Second

	minAllowedTimeout = 100 * time.Millisecond
)

// Config carries the recognized pool options. The zero value is usable:
// Validate fills in defaults. Env tags allow mains to hydrate a Config
// straight from the environment with FromEnv.
type Config struct {
	// Name identifies the pool in logs and errors.
	Name string `envconfig:"POOL_NAME"`

	// MinimumIdle is the target number of idle handles kept ready. Zero
	// means "same as MaximumPoolSize".
	MinimumIdle int `envconfig:"POOL_MINIMUM_IDLE"`

	// MaximumPoolSize is the hard cap on live handles.
	MaximumPoolSize int `envconfig:"POOL_MAXIMUM_POOL_SIZE"`

	// ConnectionTimeout is the default borrow deadline.
	ConnectionTimeout time.Duration `envconfig:"POOL_CONNECTION_TIMEOUT"`

	// ValidationTimeout is the liveness probe budget.
	ValidationTimeout time.Duration `envconfig:"POOL_VALIDATION_TIMEOUT"`

	// MaxLifetime retires a handle this long after creation, minus a small
	// per-handle variance so a cohort never expires at once. Zero disables.
	MaxLifetime time.Duration `envconfig:"POOL_MAX_LIFETIME"`

	// IdleTimeout retires handles idle longer than this, down to
	// MinimumIdle. Zero disables.
	IdleTimeout time.Duration `envconfig:"POOL_IDLE_TIMEOUT"`

	// LeakDetectionThreshold logs a warning when a borrow is held longer
	// than this. Zero disables.
	LeakDetectionThreshold time.Duration `envconfig:"POOL_LEAK_DETECTION_THRESHOLD"`

	// AliveBypassWindow skips the liveness probe for handles used this
	// recently. A handle used moments ago almost certainly remains alive,
	// and the probe round-trip would dominate warm borrow latency.
	AliveBypassWindow time.Duration `envconfig:"POOL_ALIVE_BYPASS_WINDOW"`

	// HousekeepingPeriod is the fixed delay between maintenance ticks.
	HousekeepingPeriod time.Duration `envconfig:"POOL_HOUSEKEEPING_PERIOD"`

	// MaxCreateRate caps handle creations per second across all adder
	// workers. Zero means unlimited.
	MaxCreateRate float64 `envconfig:"POOL_MAX_CREATE_RATE"`

	// AllowPoolSuspension enables Suspend/Resume.
	AllowPoolSuspension bool `envconfig:"POOL_ALLOW_SUSPENSION"`

	// InitializationFailFast opens and validates one handle synchronously
	// during New and fails construction if that does not work.
	InitializationFailFast bool `envconfig:"POOL_INIT_FAIL_FAST"`
}

// FromEnv returns a Config hydrated from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("envconfig.Process: %w", err)
	}
	return cfg, nil
}

// Validate normalizes cfg in place, applying defaults and rejecting
// combinations that cannot work.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	if cfg.MaximumPoolSize < 0 || cfg.MinimumIdle < 0 {
		return fmt.Errorf("%s - negative capacity", cfg.Name)
	}
	if cfg.MaximumPoolSize == 0 {
		cfg.MaximumPoolSize = DefaultMaximumPoolSize
	}
	if cfg.MinimumIdle == 0 || cfg.MinimumIdle > cfg.MaximumPoolSize {
		cfg.MinimumIdle = cfg.MaximumPoolSize
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.ConnectionTimeout < minAllowedTimeout {
		return fmt.Errorf("%s - ConnectionTimeout %v below minimum %v", cfg.Name, cfg.ConnectionTimeout, minAllowedTimeout)
	}
	if cfg.ValidationTimeout == 0 {
		cfg.ValidationTimeout = DefaultValidationTimeout
	}
	if cfg.MaxLifetime < 0 || cfg.IdleTimeout < 0 || cfg.LeakDetectionThreshold < 0 {
		return fmt.Errorf("%s - negative timeout", cfg.Name)
	}
	if cfg.AliveBypassWindow == 0 {
		cfg.AliveBypassWindow = DefaultAliveBypassWindow
	}
	if cfg.HousekeepingPeriod == 0 {
		cfg.HousekeepingPeriod = DefaultHousekeepingPeriod
	}
	if cfg.MaxCreateRate < 0 {
		return fmt.Errorf("%s - negative MaxCreateRate", cfg.Name)
	}
	return nil
}
