package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Manifest sources
	ManifestURL        string `mapstructure:"manifest-url" yaml:"manifest-url"`
	StagingManifestURL string `mapstructure:"staging-manifest-url" yaml:"staging-manifest-url"`
	LocalManifestURL   string `mapstructure:"local-manifest-url" yaml:"local-manifest-url"`

	// Device layout
	UpdateDir           string `mapstructure:"update-dir" yaml:"update-dir"`
	SpaceCheckPath      string `mapstructure:"space-check-path" yaml:"space-check-path"`
	RecoveryDevice      string `mapstructure:"recovery-device" yaml:"recovery-device"`
	RecoveryCommand     string `mapstructure:"recovery-command" yaml:"recovery-command"`
	BatteryCapacityPath string `mapstructure:"battery-capacity-path" yaml:"battery-capacity-path"`
	BatteryCurrentPath  string `mapstructure:"battery-current-path" yaml:"battery-current-path"`
	NoBatteryFlagPath   string `mapstructure:"no-battery-flag-path" yaml:"no-battery-flag-path"`

	// Preflight limits
	MinFreeSpace              uint64        `mapstructure:"min-free-space" yaml:"min-free-space"`
	BatteryMinPercent         int           `mapstructure:"battery-min-percent" yaml:"battery-min-percent"`
	BatteryChargingMinPercent int           `mapstructure:"battery-charging-min-percent" yaml:"battery-charging-min-percent"`
	BatteryPollInterval       time.Duration `mapstructure:"battery-poll-interval" yaml:"battery-poll-interval"`
	// MaxRecoveryLen caps the recovery_len a manifest may ask us to hash.
	MaxRecoveryLen int64 `mapstructure:"max-recovery-len" yaml:"max-recovery-len"`

	// Network
	TransferMaxAttempts int    `mapstructure:"transfer-max-attempts" yaml:"transfer-max-attempts"`
	UserAgent           string `mapstructure:"user-agent" yaml:"user-agent"`
	S3Region            string `mapstructure:"s3-region" yaml:"s3-region"`

	// Reboot and external commands
	RebootMethod      string `mapstructure:"reboot-method" yaml:"reboot-method"`
	RebootCommand     string `mapstructure:"reboot-command" yaml:"reboot-command"`
	ExitRebootCommand string `mapstructure:"exit-reboot-command" yaml:"exit-reboot-command"`
	SettingsCommand   string `mapstructure:"settings-command" yaml:"settings-command"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path" yaml:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path" yaml:"fsm-db-path"`

	LogLevel string `mapstructure:"log-level" yaml:"log-level"`
	// LogFile receives logs when set; the console owns the terminal.
	LogFile string `mapstructure:"log-file" yaml:"log-file"`
}

// Reboot methods
const (
	RebootMethodCommand = "command"
	RebootMethodSyscall = "syscall"
)

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("manifest-url", "https://github.com/commaai/eon-neos/raw/master/update.json")
	v.SetDefault("staging-manifest-url", "https://github.com/commaai/eon-neos/raw/master/update.staging.json")
	v.SetDefault("local-manifest-url", "http://192.168.5.1:8000/neosupdate/update.local.json")

	v.SetDefault("update-dir", "/data/neoupdate")
	v.SetDefault("space-check-path", "/data/")
	v.SetDefault("recovery-device", "/dev/block/bootdevice/by-name/recovery")
	v.SetDefault("recovery-command", "/cache/recovery/command")
	v.SetDefault("battery-capacity-path", "/sys/class/power_supply/battery/capacity")
	v.SetDefault("battery-current-path", "/sys/class/power_supply/battery/current_now")
	v.SetDefault("no-battery-flag-path", "/data/params/d/dp_no_batt")

	v.SetDefault("min-free-space", uint64(2000000000))
	v.SetDefault("battery-min-percent", 35)
	v.SetDefault("battery-charging-min-percent", 10)
	v.SetDefault("battery-poll-interval", time.Second)
	v.SetDefault("max-recovery-len", int64(1<<30))

	v.SetDefault("transfer-max-attempts", 4)
	v.SetDefault("user-agent", "NEOSUpdater-0.2")
	v.SetDefault("s3-region", "us-east-1")

	v.SetDefault("reboot-method", RebootMethodCommand)
	v.SetDefault("reboot-command", "service call power 16 i32 0 s16 recovery i32 1")
	v.SetDefault("exit-reboot-command", "service call power 16 i32 0 i32 0 i32 1")
	v.SetDefault("settings-command", "am start -W --ez :settings:show_fragment_as_subsetting true -n com.android.settings/.Settings$WifiSettingsActivity")

	v.SetDefault("sqlite-path", "/data/neoupdate/ledger.db")
	v.SetDefault("fsm-db-path", "/data/neoupdate/fsm")

	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "/data/neoupdate/neosupdater.log")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration through v
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (will be NEOSUPDATE_UPDATE_DIR, etc.)
	v.SetEnvPrefix("NEOSUPDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/data/neoupdate")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	required := []struct {
		key, value string
	}{
		{"manifest-url", c.ManifestURL},
		{"update-dir", c.UpdateDir},
		{"space-check-path", c.SpaceCheckPath},
		{"recovery-device", c.RecoveryDevice},
		{"recovery-command", c.RecoveryCommand},
		{"battery-capacity-path", c.BatteryCapacityPath},
		{"battery-current-path", c.BatteryCurrentPath},
		{"user-agent", c.UserAgent},
		{"sqlite-path", c.SQLitePath},
		{"fsm-db-path", c.FSMDBPath},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s cannot be empty", r.key)
		}
	}

	if c.MinFreeSpace == 0 {
		return fmt.Errorf("min-free-space must be positive")
	}
	if c.BatteryMinPercent <= 0 || c.BatteryMinPercent > 100 {
		return fmt.Errorf("battery-min-percent must be between 1 and 100")
	}
	if c.BatteryChargingMinPercent < 0 || c.BatteryChargingMinPercent > c.BatteryMinPercent {
		return fmt.Errorf("battery-charging-min-percent must be between 0 and battery-min-percent")
	}
	if c.BatteryPollInterval <= 0 {
		return fmt.Errorf("battery-poll-interval must be positive")
	}
	if c.MaxRecoveryLen <= 0 {
		return fmt.Errorf("max-recovery-len must be positive")
	}
	if c.TransferMaxAttempts <= 0 {
		return fmt.Errorf("transfer-max-attempts must be positive")
	}

	switch c.RebootMethod {
	case RebootMethodCommand:
		if c.RebootCommand == "" {
			return fmt.Errorf("reboot-command cannot be empty when reboot-method is %q", RebootMethodCommand)
		}
	case RebootMethodSyscall:
	default:
		return fmt.Errorf("reboot-method must be %q or %q, got %q", RebootMethodCommand, RebootMethodSyscall, c.RebootMethod)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
