package filters_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, rawURL string) *cloudcall.Request {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	return &cloudcall.Request{
		Operation: "test",
		Method:    http.MethodGet,
		URL:       u,
		Query:     cloudcall.NewOrderedValues(),
		Headers:   make(http.Header),
		Metadata:  make(map[string]interface{}),
	}
}

func TestChain_OrderAndIsolation(t *testing.T) {
	t.Parallel()

	registry := filters.NewRegistry()

	var order []string

	tag := func(name string) cloudcall.Filter {
		return cloudcall.FilterFunc(func(_ context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
			order = append(order, name)
			req.Headers.Add("X-Seen", name+":"+req.Headers.Get("X-Seen"))

			return req, nil
		})
	}

	registry.Register("first", tag("first"))
	registry.Register("second", tag("second"))

	chain, err := registry.Chain([]string{"second", "first"})
	require.NoError(t, err)
	assert.Equal(t, 2, chain.Len())

	req := newRequest(t, "https://api.example.com")
	out, err := chain.Apply(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"second", "first"}, order)
	assert.Equal(t, []string{"second:", "first:second:"}, out.Headers.Values("X-Seen"))
	assert.Empty(t, req.Headers.Values("X-Seen"), "input request must not be mutated")
}

func TestChain_ShortCircuitsOnMissingCredential(t *testing.T) {
	t.Parallel()

	registry := filters.NewRegistry()
	registry.Register(constants.FilterBearer, filters.Bearer(filters.StaticCredential("")))

	called := false

	registry.Register("after", cloudcall.FilterFunc(func(_ context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		called = true

		return req, nil
	}))

	chain, err := registry.Chain([]string{constants.FilterBearer, "after"})
	require.NoError(t, err)

	_, err = chain.Apply(context.Background(), newRequest(t, "https://api.example.com"))
	require.Error(t, err)
	assert.True(t, cloudcall.IsUnauthorized(err))
	assert.ErrorIs(t, err, constants.ErrMissingCredential)
	assert.False(t, called)

	var e *cloudcall.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "test", e.Op)
}

func TestChain_UnknownFilterIsUnauthorized(t *testing.T) {
	t.Parallel()

	_, err := filters.NewRegistry().Chain([]string{"query-signer"})
	require.Error(t, err)
	assert.True(t, cloudcall.IsUnauthorized(err))
	assert.ErrorIs(t, err, cloudcall.ErrUnknownFilter)
}

func TestChain_PlainErrorsBecomeUnauthorized(t *testing.T) {
	t.Parallel()

	registry := filters.NewRegistry()
	registry.Register("broken", cloudcall.FilterFunc(func(context.Context, *cloudcall.Request) (*cloudcall.Request, error) {
		return nil, errors.New("keystore locked")
	}))

	chain, err := registry.Chain([]string{"broken"})
	require.NoError(t, err)

	_, err = chain.Apply(context.Background(), newRequest(t, "https://api.example.com"))
	assert.True(t, cloudcall.IsUnauthorized(err))
}

func TestCredentialFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	req, err := filters.Bearer(filters.StaticCredential("abc")).Apply(ctx, newRequest(t, "https://api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", req.Headers.Get("Authorization"))

	req = newRequest(t, "https://api.example.com")
	req.Headers.Set("Cookie", "a=b")
	req, err = filters.SessionCookie("vcloud-token", filters.StaticCredential("s3ss")).Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "a=b; vcloud-token=s3ss", req.Headers.Get("Cookie"))

	req, err = filters.BasicAuth("user", "pass").Apply(ctx, newRequest(t, "https://api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Basic dXNlcjpwYXNz", req.Headers.Get("Authorization"))

	_, err = filters.BasicAuth("user", "").Apply(ctx, newRequest(t, "https://api.example.com"))
	assert.True(t, cloudcall.IsUnauthorized(err))

	_, err = filters.SessionCookie("vcloud-token", nil).Apply(ctx, newRequest(t, "https://api.example.com"))
	assert.True(t, cloudcall.IsUnauthorized(err))
}

func TestHeaderFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	req, err := filters.UserAgent("cloudcall-test").Apply(ctx, newRequest(t, "https://api.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "cloudcall-test", req.Headers.Get("User-Agent"))

	req, err = filters.RequestID().Apply(ctx, req)
	require.NoError(t, err)

	id := req.Headers.Get("X-Request-Id")
	assert.Len(t, id, 36)
	assert.Equal(t, id, req.Metadata["request_id"])

	req, err = filters.RequestID().Apply(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, req.Headers.Get("X-Request-Id"), "existing id is kept")
}

func TestQuerySigner(t *testing.T) {
	t.Parallel()

	req := newRequest(t, "https://cloud.example.com/client/api")
	req.Query.Add("command", "listZones")
	req.Query.Add("available", "true")
	req.Query.Add("response", "json")

	out, err := filters.QuerySigner("APIKEY", "secret").Apply(context.Background(), req)
	require.NoError(t, err)

	pairs := out.Query.Pairs()
	require.Len(t, pairs, 5)
	assert.Equal(t, "apiKey", pairs[3].Key)
	assert.Equal(t, "signature", pairs[4].Key)

	assert.Equal(t, "apikey=apikey&available=true&command=listzones&response=json", filters.StringToSign(out.Query))
	assert.Equal(t, filters.Sign(out.Query, "secret"), out.Query.Get("signature"))

	again, err := filters.QuerySigner("APIKEY", "secret").Apply(context.Background(), out.Clone())
	require.NoError(t, err)
	assert.Equal(t, out.Query.Get("signature"), again.Query.Get("signature"), "re-signing is stable")
	assert.Len(t, again.Query.Values("signature"), 1)

	_, err = filters.QuerySigner("", "secret").Apply(context.Background(), newRequest(t, "https://cloud.example.com"))
	assert.True(t, cloudcall.IsUnauthorized(err))
}

func TestQuerySigner_EncodesValuesBeforeLowerCasing(t *testing.T) {
	t.Parallel()

	q := cloudcall.NewOrderedValues()
	q.Add("name", "Web Server/1")

	assert.Equal(t, "name=web%20server%2f1", filters.StringToSign(q))
}

func TestSigV4(t *testing.T) {
	t.Parallel()

	fixed := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	filter := filters.SigV4(filters.StaticAWSCredentials("AKID", "SECRET", ""), "us-east-1", "ec2", fixed)

	req := newRequest(t, "https://ec2.us-east-1.amazonaws.com/")
	req.Query.Add("Action", "DescribeInstances")

	out, err := filter.Apply(context.Background(), req)
	require.NoError(t, err)

	auth := out.Headers.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKID/20240102/us-east-1/ec2/aws4_request"), auth)
	assert.Equal(t, "20240102T030405Z", out.Headers.Get("X-Amz-Date"))

	_, err = filters.SigV4(filters.StaticAWSCredentials("", "", ""), "us-east-1", "ec2", fixed).
		Apply(context.Background(), newRequest(t, "https://ec2.us-east-1.amazonaws.com/"))
	assert.True(t, cloudcall.IsUnauthorized(err))
}
