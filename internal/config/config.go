// Package config loads engine configuration from YAML files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Load reads configuration from path, or from the file named by
// CLOUDCALL_CONFIG, or from cloudcall.yaml in the working directory,
// ./configs or ~/.cloudcall. A missing file is not an error when no path
// was given. Environment variables override file values; they use the prefix
// CLOUDCALL and `.`/`-` are replaced with `_`, e.g. CLOUDCALL_POLL_INTERVAL=5s.
func Load(path string) (*cloudcall.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, cloudcall.DefaultConfig())

	if path == "" {
		path = os.Getenv(constants.EnvConfigPath)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(constants.ConfigName)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cloudcall"))
		}
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &cloudcall.Config{}

	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	err = Validate(cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *cloudcall.Config) error {
	if cfg == nil {
		return cloudcall.ErrConfigRequired
	}

	err := validator.New().Struct(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", constants.ErrInvalidConfiguration, err)
	}

	return nil
}

// setDefaults seeds every key so environment-only configurations work.
func setDefaults(v *viper.Viper, cfg *cloudcall.Config) {
	v.SetDefault("provider", cfg.Provider)
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("zone", cfg.Zone)
	v.SetDefault("user_agent", cfg.UserAgent)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("retry_max", cfg.RetryMax)
	v.SetDefault("retry_wait_min", cfg.RetryWaitMin)
	v.SetDefault("retry_wait_max", cfg.RetryWaitMax)
	v.SetDefault("call_timeout", cfg.CallTimeout)

	v.SetDefault("credentials.token", "")
	v.SetDefault("credentials.api_key", "")
	v.SetDefault("credentials.secret_key", "")
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("credentials.aws_access_key_id", "")
	v.SetDefault("credentials.aws_secret_access_key", "")
	v.SetDefault("credentials.aws_session_token", "")
	v.SetDefault("credentials.aws_region", "")
	v.SetDefault("credentials.aws_service", "")

	v.SetDefault("poll.interval", cfg.Poll.Interval)
	v.SetDefault("poll.backoff", cfg.Poll.Backoff)
	v.SetDefault("poll.max_interval", cfg.Poll.MaxInterval)
	v.SetDefault("poll.max_polls", cfg.Poll.MaxPolls)
	v.SetDefault("poll.max_elapsed", cfg.Poll.MaxElapsed)
	v.SetDefault("poll.auto_track", cfg.Poll.AutoTrack)

	v.SetDefault("job_store.type", cfg.JobStore.Type)
	v.SetDefault("job_store.nats_url", cfg.JobStore.NATSURL)
	v.SetDefault("job_store.bucket", cfg.JobStore.Bucket)
	v.SetDefault("job_store.ttl", cfg.JobStore.TTL)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
}
