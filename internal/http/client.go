// Package http executes compiled requests over HTTP.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Logger defines the logging interface.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Client sends requests and returns raw responses. Every HTTP status is a
// response, not an error; only transport failures are errors.
type Client struct {
	httpClient *retryablehttp.Client
	logger     Logger
	debug      bool
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the logger. Retry diagnostics from the transport go to it
// with secrets masked; its debug lines only when debug logging is on.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig enables retries of connection failures.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying client, e.g. for custom TLS.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient = httpClient
	}
}

// WithTimeout sets the per-attempt timeout of the underlying client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Timeout = timeout
	}
}

// NewClient creates a client. Retries are off until WithRetryConfig.
func NewClient(opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	retryClient.Logger = nil
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{httpClient: retryClient}

	for _, opt := range opts {
		opt(client)
	}

	if client.logger != nil {
		retryClient.Logger = &leveledLogger{logger: client.logger, debug: client.debug}
	}

	return client
}

// checkRetry retries connection failures only. Statuses, 429 and 5xx
// included, are left to the caller.
func checkRetry(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	return err != nil, nil
}

// Do sends req and reads the whole response body.
func (c *Client) Do(ctx context.Context, req *cloudcall.Request) (*cloudcall.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.FullURL(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header = req.Headers.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	if req.ContentType != "" {
		httpReq.Header.Set(constants.HeaderContentType, req.ContentType)
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method":  req.Method,
			"url":     redactedURL(req),
			"headers": redactHeaders(httpReq.Header),
		})
	}

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", redactError(err))
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status":   resp.StatusCode,
			"duration": time.Since(start).String(),
			"size":     len(respBody),
		})
	}

	return &cloudcall.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

var secretHeaders = []string{
	constants.HeaderAuthorization,
	constants.HeaderCookie,
	"X-Amz-Security-Token",
	"X-Vcloud-Authorization",
}

func redactHeaders(h http.Header) http.Header {
	out := h.Clone()

	for _, name := range secretHeaders {
		if out.Get(name) != "" {
			out.Set(name, constants.MaskedSecret)
		}
	}

	return out
}

// secretQueryKeys are matched case-insensitively.
var secretQueryKeys = map[string]bool{
	"apikey":               true,
	"signature":            true,
	"x-amz-credential":     true,
	"x-amz-signature":      true,
	"x-amz-security-token": true,
}

func redactedURL(req *cloudcall.Request) string {
	return redactURL(req.FullURL())
}

// redactURL masks secret query values and any userinfo password, keeping
// the order of the remaining pairs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return constants.MaskedSecret
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), constants.MaskedSecret)
	}

	if u.RawQuery != "" {
		pairs := strings.Split(u.RawQuery, "&")

		for i, pair := range pairs {
			key, _, _ := strings.Cut(pair, "=")

			name, err := url.QueryUnescape(key)
			if err == nil && secretQueryKeys[strings.ToLower(name)] {
				pairs[i] = key + "=" + constants.MaskedSecret
			}
		}

		u.RawQuery = strings.Join(pairs, "&")
	}

	return u.String()
}

// redactError masks the URL carried by transport errors.
func redactError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	urlErr.URL = redactURL(urlErr.URL)

	return err
}

// leveledLogger adapts Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger Logger
	debug  bool
}

func (l *leveledLogger) fields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = redactValue(keysAndValues[i+1])
	}

	return fields
}

func redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case *url.URL:
		return redactURL(v.String())
	case error:
		return redactError(v).Error()
	case fmt.Stringer:
		return redactString(v.String())
	case string:
		return redactString(v)
	default:
		return v
	}
}

func redactString(s string) string {
	if strings.Contains(s, "://") {
		return redactURL(s)
	}

	return s
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, l.fields(keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, l.fields(keysAndValues))
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	if !l.debug {
		return
	}

	l.logger.Debug(msg, l.fields(keysAndValues))
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, l.fields(keysAndValues))
}
