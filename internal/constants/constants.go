package constants

import "time"

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultCallTimeout bounds a single dispatch.
	DefaultCallTimeout = 30 * time.Second
)

// Retry limits. Transport retries are disabled unless configured.
const (
	// DefaultRetryMax is the default maximum number of retries.
	DefaultRetryMax = 0

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// Concurrency limits.
const (
	// DefaultConcurrencyLimit limits concurrent batch invocations.
	DefaultConcurrencyLimit = 5

	// MaxWorkers caps batch concurrency.
	MaxWorkers = 64
)

// Job polling.
const (
	// DefaultPollInterval is used for polling operations.
	DefaultPollInterval = 2 * time.Second

	// QuickPollInterval is used for fast polling in tests.
	QuickPollInterval = 10 * time.Millisecond

	// DefaultMaxPollInterval caps exponential backoff.
	DefaultMaxPollInterval = 30 * time.Second

	// DefaultMaxPolls bounds the status checks of one job.
	DefaultMaxPolls = 300

	// DefaultJobPollTimeout is the default elapsed-time bound for a job.
	DefaultJobPollTimeout = 10 * time.Minute

	// ExponentialBackoffBase is the base for exponential backoff.
	ExponentialBackoffBase = 2
)

// Job bookkeeping.
const (
	// DefaultJobBucket is the NATS KV bucket for job records.
	DefaultJobBucket = "cloudcall_jobs"

	// DefaultJobTTL expires abandoned job records.
	DefaultJobTTL = time.Hour
)

// Credentials.
const (
	// TokenExpirationBuffer is the buffer time before token expiration.
	TokenExpirationBuffer = 30 * time.Second

	// DefaultSessionTTL is assumed when a login does not report an expiry.
	DefaultSessionTTL = 30 * time.Minute

	// MaskedSecret is used to hide sensitive information.
	MaskedSecret = "***"
)

// Configuration.
const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CLOUDCALL"

	// EnvConfigPath names a configuration file.
	EnvConfigPath = "CLOUDCALL_CONFIG"

	// ConfigName is the file name searched for without extension.
	ConfigName = "cloudcall"

	// DefaultUserAgent identifies the engine.
	DefaultUserAgent = "cloudcall-go/1.0"
)

// Logging.
const (
	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log encoding.
	DefaultLogFormat = "json"

	// DefaultLogOutput is the default log destination.
	DefaultLogOutput = "stderr"

	// MaxLoggedBody limits response bodies quoted in logs and errors.
	MaxLoggedBody = 512
)

// Header names.
const (
	HeaderAuthorization = "Authorization"
	HeaderAccept        = "Accept"
	HeaderContentType   = "Content-Type"
	HeaderCookie        = "Cookie"
	HeaderLocation      = "Location"
	HeaderRequestID     = "X-Request-Id"
	HeaderRetryAfter    = "Retry-After"
	HeaderUserAgent     = "User-Agent"
)

// Media types.
const (
	ContentTypeJSON        = "application/json"
	ContentTypeXML         = "application/xml"
	ContentTypeYAML        = "application/yaml"
	ContentTypeForm        = "application/x-www-form-urlencoded"
	ContentTypeOctetStream = "application/octet-stream"
)

// Parser identifiers.
const (
	ParserJSON = "json"
	ParserXML  = "xml"
	ParserYAML = "yaml"
)

// Built-in filter names.
const (
	FilterBearer      = "bearer"
	FilterBasicAuth   = "basic-auth"
	FilterQuerySigner = "query-signer"
	FilterSigV4       = "sigv4"
	FilterSession     = "session-cookie"
	FilterUserAgent   = "user-agent"
	FilterRequestID   = "request-id"
)

// Request metadata keys.
const (
	MetadataRequestID = "request_id"
)
