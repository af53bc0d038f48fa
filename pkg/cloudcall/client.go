package cloudcall

import (
	"context"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
)

// Invoker is the single entry point of the engine.
type Invoker interface {
	// Invoke compiles, filters and dispatches desc with args and returns
	// immediately. The future resolves with exactly one result or error.
	Invoke(ctx context.Context, desc *OperationDescriptor, args *Args) *Future
}

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Backoff policies for job polling.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Job store backends.
const (
	JobStoreMemory = "memory"
	JobStoreNATS   = "nats"
	JobStoreNone   = "none"
)

// Config represents engine configuration.
//
// Credentials are optional; each one enables the filter that needs it. A
// descriptor naming a filter whose credential is missing fails with
// KindUnauthorized before anything is sent.
type Config struct {
	// Provider selects the compute variant, e.g. "cloudstack" or "vcloud".
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=cloudstack vcloud"`
	// Endpoint is the default base URI for descriptors without their own.
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`
	// Zone is the default placement: a CloudStack zone id or a vCloud VDC id.
	Zone string `mapstructure:"zone"`

	Credentials Credentials `mapstructure:"credentials"`

	UserAgent string `mapstructure:"user_agent"`
	// Debug enables request/response logging at debug level.
	Debug bool `mapstructure:"debug"`
	// RetryMax enables transport retries of connection failures. HTTP
	// statuses are never retried.
	RetryMax     int           `mapstructure:"retry_max" validate:"gte=0"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	// CallTimeout bounds each dispatch; descriptors may override it.
	CallTimeout time.Duration `mapstructure:"call_timeout" validate:"gte=0"`

	Poll     PollConfig     `mapstructure:"poll"`
	JobStore JobStoreConfig `mapstructure:"job_store"`
	Log      LogConfig      `mapstructure:"log"`

	// Logger overrides the logger built from Log.
	Logger Logger `mapstructure:"-"`
}

// Credentials holds provider secrets.
type Credentials struct {
	// Token is a bearer token.
	Token string `mapstructure:"token"`
	// APIKey and SecretKey drive the query signer.
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Username and Password drive basic auth and session login.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// AWS keys drive SigV4 signing.
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	AWSSessionToken    string `mapstructure:"aws_session_token"`
	AWSRegion          string `mapstructure:"aws_region"`
	AWSService         string `mapstructure:"aws_service"`
}

// PollConfig configures the async job poller.
type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	Backoff     string        `mapstructure:"backoff" validate:"oneof=fixed exponential"`
	MaxInterval time.Duration `mapstructure:"max_interval" validate:"gte=0"`
	// MaxPolls and MaxElapsed bound a job; zero disables a bound.
	MaxPolls   int           `mapstructure:"max_polls" validate:"gte=0"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed" validate:"gte=0"`
	// AutoTrack makes job-shaped calls resolve with the job's final payload.
	AutoTrack bool `mapstructure:"auto_track"`
}

// JobStoreConfig selects where in-flight job bookkeeping lives.
type JobStoreConfig struct {
	Type    string        `mapstructure:"type" validate:"oneof=memory nats none"`
	NATSURL string        `mapstructure:"nats_url" validate:"required_if=Type nats"`
	Bucket  string        `mapstructure:"bucket"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	// Output is stdout, stderr or a file path.
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns configuration with every optional field defaulted.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:    constants.DefaultUserAgent,
		RetryMax:     constants.DefaultRetryMax,
		RetryWaitMin: constants.DefaultRetryWaitMin,
		RetryWaitMax: constants.DefaultRetryWaitMax,
		CallTimeout:  constants.DefaultCallTimeout,
		Poll: PollConfig{
			Interval:    constants.DefaultPollInterval,
			Backoff:     BackoffFixed,
			MaxInterval: constants.DefaultMaxPollInterval,
			MaxPolls:    constants.DefaultMaxPolls,
			MaxElapsed:  constants.DefaultJobPollTimeout,
			AutoTrack:   true,
		},
		JobStore: JobStoreConfig{
			Type:   JobStoreMemory,
			Bucket: constants.DefaultJobBucket,
			TTL:    constants.DefaultJobTTL,
		},
		Log: LogConfig{
			Level:  constants.DefaultLogLevel,
			Format: constants.DefaultLogFormat,
			Output: constants.DefaultLogOutput,
		},
	}
}
