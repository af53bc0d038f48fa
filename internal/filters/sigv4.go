package filters

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// StaticAWSCredentials returns a cached provider for fixed keys.
func StaticAWSCredentials(accessKeyID, secretAccessKey, sessionToken string) aws.CredentialsProvider {
	return aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
			Source:          "cloudcall",
		}, nil
	}))
}

// SigV4 signs requests with AWS Signature Version 4. now may be nil.
func SigV4(provider aws.CredentialsProvider, region, service string, now func() time.Time) cloudcall.Filter {
	signer := v4.NewSigner()

	if now == nil {
		now = time.Now
	}

	return cloudcall.FilterFunc(func(ctx context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		if provider == nil {
			return nil, unauthorized("aws credentials not configured", constants.ErrMissingCredential)
		}

		creds, err := provider.Retrieve(ctx)
		if err != nil {
			return nil, unauthorized("aws credentials unavailable", err)
		}

		if !creds.HasKeys() {
			return nil, unauthorized("aws credentials unavailable", constants.ErrMissingCredential)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.FullURL(), bytes.NewReader(req.Body))
		if err != nil {
			return nil, fmt.Errorf("building signing request: %w", err)
		}

		httpReq.Header = req.Headers.Clone()

		sum := sha256.Sum256(req.Body)

		err = signer.SignHTTP(ctx, creds, httpReq, hex.EncodeToString(sum[:]), service, region, now())
		if err != nil {
			return nil, unauthorized("signing request", err)
		}

		for key, values := range httpReq.Header {
			req.Headers[key] = values
		}

		return req, nil
	})
}
