package constants

import "errors"

// Credential errors.
var (
	ErrMissingCredential   = errors.New("credential not available")
	ErrCannotRefresh       = errors.New("credential cannot be refreshed")
	ErrSessionLoginFailed  = errors.New("session login failed")
	ErrSessionTokenMissing = errors.New("login response carried no session token")
)

// Job errors.
var (
	ErrNATSConfigRequired      = errors.New("NATS URL required for NATS job store")
	ErrUnsupportedJobStoreType = errors.New("unsupported job store type")
	ErrJobNotFound             = errors.New("job not found")
	ErrNoStatusDecoder         = errors.New("no status decoder configured")
)

// Provider errors.
var (
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrProviderRegistered   = errors.New("provider already registered")
	ErrUnexpectedPayload    = errors.New("unexpected payload shape")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrZoneRequired         = errors.New("no zone in template or configuration")
	ErrNotVDCReference      = errors.New("not a vdc reference")
)
