package filters

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// credential reads source and turns every miss into KindUnauthorized.
func credential(ctx context.Context, source cloudcall.CredentialSource, what string) (string, error) {
	if source == nil {
		return "", unauthorized(what+" source not configured", constants.ErrMissingCredential)
	}

	value, err := source.Credential(ctx)
	if err != nil {
		return "", unauthorized(what+" unavailable", err)
	}

	if value == "" {
		return "", unauthorized(what+" unavailable", constants.ErrMissingCredential)
	}

	return value, nil
}

// Bearer sets an OAuth2 style bearer token.
func Bearer(source cloudcall.CredentialSource) cloudcall.Filter {
	return cloudcall.FilterFunc(func(ctx context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		token, err := credential(ctx, source, "bearer token")
		if err != nil {
			return nil, err
		}

		req.Headers.Set(constants.HeaderAuthorization, "Bearer "+token)

		return req, nil
	})
}

// SessionCookie adds the current session id as cookie name, the way vCloud
// expects its vcloud-token cookie.
func SessionCookie(name string, source cloudcall.CredentialSource) cloudcall.Filter {
	return cloudcall.FilterFunc(func(ctx context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		session, err := credential(ctx, source, "session")
		if err != nil {
			return nil, err
		}

		cookie := (&http.Cookie{Name: name, Value: session}).String()
		if existing := req.Headers.Get(constants.HeaderCookie); existing != "" {
			cookie = existing + "; " + cookie
		}

		req.Headers.Set(constants.HeaderCookie, cookie)

		return req, nil
	})
}

// BasicAuth sets HTTP basic credentials. Empty credentials are rejected.
func BasicAuth(username, password string) cloudcall.Filter {
	return cloudcall.FilterFunc(func(_ context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		if username == "" || password == "" {
			return nil, unauthorized("basic credentials unavailable", constants.ErrMissingCredential)
		}

		raw := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		req.Headers.Set(constants.HeaderAuthorization, "Basic "+raw)

		return req, nil
	})
}

// StaticCredential is a fixed CredentialSource.
type StaticCredential string

// Credential implements cloudcall.CredentialSource.
func (s StaticCredential) Credential(context.Context) (string, error) {
	if s == "" {
		return "", constants.ErrMissingCredential
	}

	return string(s), nil
}
