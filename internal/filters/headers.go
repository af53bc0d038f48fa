package filters

import (
	"context"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// StaticHeaders sets fixed headers.
func StaticHeaders(headers ...cloudcall.Pair) cloudcall.Filter {
	return cloudcall.FilterFunc(func(_ context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		for _, h := range headers {
			req.Headers.Set(h.Key, h.Value)
		}

		return req, nil
	})
}

// UserAgent sets the User-Agent header.
func UserAgent(agent string) cloudcall.Filter {
	return StaticHeaders(cloudcall.Pair{Key: constants.HeaderUserAgent, Value: agent})
}

// RequestID tags the request with a fresh id unless one is already set and
// records it in the request metadata for logging.
func RequestID() cloudcall.Filter {
	return cloudcall.FilterFunc(func(_ context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
		id := req.Headers.Get(constants.HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
			req.Headers.Set(constants.HeaderRequestID, id)
		}

		req.Metadata[constants.MetadataRequestID] = id

		return req, nil
	})
}
