// Package cloudclient provides the main entry point for creating call engines.
package cloudclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fivetwenty-io/cloudcall/internal/auth"
	"github.com/fivetwenty-io/cloudcall/internal/client"
	"github.com/fivetwenty-io/cloudcall/internal/compiler"
	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/dispatch"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	callhttp "github.com/fivetwenty-io/cloudcall/internal/http"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/internal/jobs"
	"github.com/fivetwenty-io/cloudcall/internal/logging"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Client invokes operation descriptors against one provider endpoint.
type Client struct {
	engine *client.Engine
	store  jobs.Store
	logger cloudcall.Logger
	zap    *zap.Logger
	config cloudcall.Config
}

type options struct {
	logger     cloudcall.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
	decoder    cloudcall.StatusDecoder
}

// Option configures the client.
type Option func(*options)

// WithLogger overrides the logger built from the log configuration.
func WithLogger(logger cloudcall.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer records dispatch metrics in reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. for custom TLS.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithStatusDecoder sets the decoder that reads job status checks.
func WithStatusDecoder(decoder cloudcall.StatusDecoder) Option {
	return func(o *options) {
		o.decoder = decoder
	}
}

// New creates a client from config. Each configured credential enables the
// filter that needs it; descriptors naming a filter without its credential
// fail with KindUnauthorized before anything is sent.
func New(ctx context.Context, config *cloudcall.Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, cloudcall.ErrConfigRequired
	}

	if config.Endpoint == "" {
		return nil, cloudcall.ErrEndpointRequired
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{config: *config}
	c.config.Endpoint = normalizeEndpoint(config.Endpoint)

	err := c.setupLogger(o)
	if err != nil {
		return nil, err
	}

	store, err := jobs.NewStore(ctx, c.config.JobStore)
	if err != nil {
		return nil, fmt.Errorf("creating job store: %w", err)
	}

	c.store = store

	c.engine = client.New(
		compiler.New(c.config.Endpoint),
		c.filterRegistry(),
		c.dispatcher(o),
		interpret.New(interpret.WithLogger(c.logger)),
		client.WithLogger(c.logger),
		client.WithCallTimeout(c.config.CallTimeout),
		client.WithAutoTrack(c.config.Poll.AutoTrack),
		client.WithStatusDecoder(o.decoder),
		client.WithPollOptions(
			jobs.WithIntervalPolicy(jobs.PolicyFromConfig(c.config.Poll)),
			jobs.WithLimits(c.config.Poll.MaxPolls, c.config.Poll.MaxElapsed),
			jobs.WithStore(store),
		),
	)

	c.logger.Debug("client created", map[string]interface{}{
		"endpoint":  c.config.Endpoint,
		"provider":  c.config.Provider,
		"job_store": c.config.JobStore.Type,
	})

	return c, nil
}

// NewWithEndpoint creates a client with just an endpoint (no credentials).
func NewWithEndpoint(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	config := cloudcall.DefaultConfig()
	config.Endpoint = endpoint

	return New(ctx, config, opts...)
}

// NewWithToken creates a client with an endpoint and bearer token.
func NewWithToken(ctx context.Context, endpoint, token string, opts ...Option) (*Client, error) {
	config := cloudcall.DefaultConfig()
	config.Endpoint = endpoint
	config.Credentials.Token = token

	return New(ctx, config, opts...)
}

// NewWithAPIKey creates a client with an endpoint and query-signing keys.
func NewWithAPIKey(ctx context.Context, endpoint, apiKey, secretKey string, opts ...Option) (*Client, error) {
	config := cloudcall.DefaultConfig()
	config.Endpoint = endpoint
	config.Credentials.APIKey = apiKey
	config.Credentials.SecretKey = secretKey

	return New(ctx, config, opts...)
}

func (c *Client) setupLogger(o *options) error {
	switch {
	case o.logger != nil:
		c.logger = o.logger
	case c.config.Logger != nil:
		c.logger = c.config.Logger
	default:
		zl, err := logging.Setup(c.config.Log)
		if err != nil {
			return fmt.Errorf("setting up logger: %w", err)
		}

		c.zap = zl
		c.logger = logging.NewZapLogger(zl)
	}

	return nil
}

func (c *Client) dispatcher(o *options) *dispatch.Dispatcher {
	httpOpts := []callhttp.Option{
		callhttp.WithLogger(c.logger),
		callhttp.WithDebug(c.config.Debug),
	}

	if o.httpClient != nil {
		httpOpts = append(httpOpts, callhttp.WithHTTPClient(o.httpClient))
	}

	if c.config.RetryMax > 0 {
		httpOpts = append(httpOpts, callhttp.WithRetryConfig(c.config.RetryMax, c.config.RetryWaitMin, c.config.RetryWaitMax))
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(c.logger)}
	if o.registerer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(dispatch.NewMetrics(o.registerer)))
	}

	return dispatch.New(callhttp.NewClient(httpOpts...), dispatchOpts...)
}

// filterRegistry registers a filter for every configured credential.
func (c *Client) filterRegistry() *filters.Registry {
	registry := filters.NewRegistry()
	creds := c.config.Credentials

	registry.Register(constants.FilterUserAgent, filters.UserAgent(c.config.UserAgent))
	registry.Register(constants.FilterRequestID, filters.RequestID())

	if creds.Token != "" {
		registry.Register(constants.FilterBearer, filters.Bearer(auth.NewStaticSession(creds.Token)))
	}

	if creds.Username != "" {
		registry.Register(constants.FilterBasicAuth, filters.BasicAuth(creds.Username, creds.Password))
	}

	if creds.APIKey != "" && creds.SecretKey != "" {
		registry.Register(constants.FilterQuerySigner, filters.QuerySigner(creds.APIKey, creds.SecretKey))
	}

	if creds.AWSAccessKeyID != "" && creds.AWSSecretAccessKey != "" {
		provider := filters.StaticAWSCredentials(creds.AWSAccessKeyID, creds.AWSSecretAccessKey, creds.AWSSessionToken)
		registry.Register(constants.FilterSigV4, filters.SigV4(provider, creds.AWSRegion, creds.AWSService, time.Now))
	}

	return registry
}

// Invoke dispatches desc with args. It never blocks; the future resolves
// with exactly one result or error.
func (c *Client) Invoke(ctx context.Context, desc *cloudcall.OperationDescriptor, args *cloudcall.Args) *cloudcall.Future {
	return c.engine.Invoke(ctx, desc, args)
}

// Track polls a job returned by an earlier invocation to completion.
func (c *Client) Track(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future {
	return c.engine.Track(ctx, handle)
}

// RegisterFilter adds or replaces a named request filter.
func (c *Client) RegisterFilter(name string, filter cloudcall.Filter) {
	c.engine.RegisterFilter(name, filter)
}

// RegisterResolver adds or replaces a named endpoint resolver.
func (c *Client) RegisterResolver(name string, resolver cloudcall.EndpointResolver) {
	c.engine.RegisterResolver(name, resolver)
}

// RegisterMapper adds or replaces a named exception mapper.
func (c *Client) RegisterMapper(name string, mapper cloudcall.ExceptionMapper) {
	c.engine.RegisterMapper(name, mapper)
}

// RegisterParser adds or replaces a body parser.
func (c *Client) RegisterParser(id string, parser cloudcall.Parser) {
	c.engine.RegisterParser(id, parser)
}

// SetStatusDecoder replaces the decoder that reads job status checks.
func (c *Client) SetStatusDecoder(decoder cloudcall.StatusDecoder) {
	c.engine.SetStatusDecoder(decoder)
}

// PendingJobs lists jobs currently being tracked.
func (c *Client) PendingJobs(ctx context.Context) ([]*cloudcall.AsyncJob, error) {
	return c.store.List(ctx)
}

// Calls returns how many requests were dispatched.
func (c *Client) Calls() int64 {
	return c.engine.Calls()
}

// Config returns the effective configuration.
func (c *Client) Config() cloudcall.Config {
	return c.config
}

// Logger returns the client's logger.
func (c *Client) Logger() cloudcall.Logger {
	return c.logger
}

// Batch returns an executor running invocations through this client.
func (c *Client) Batch(concurrency int) *BatchExecutor {
	return NewBatchExecutor(c, concurrency)
}

// Close releases the job store and flushes the logger it built.
func (c *Client) Close() error {
	err := c.store.Close()
	if err != nil {
		return fmt.Errorf("closing job store: %w", err)
	}

	if c.zap != nil {
		_ = c.zap.Sync()
	}

	return nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	return endpoint
}

var _ cloudcall.Invoker = (*Client)(nil)
