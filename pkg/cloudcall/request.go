package cloudcall

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is a compiled call ready for the filter chain and dispatch.
type Request struct {
	Operation   string
	Method      string
	URL         *url.URL
	Query       *OrderedValues
	Headers     http.Header
	Body        []byte
	ContentType string
	Metadata    map[string]interface{}
}

// FullURL returns URL with Query encoded in insertion order.
func (r *Request) FullURL() string {
	u := *r.URL
	u.RawQuery = r.Query.Encode()

	return u.String()
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	out := *r

	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}

	if r.Query != nil {
		out.Query = r.Query.Clone()
	} else {
		out.Query = NewOrderedValues()
	}

	out.Headers = r.Headers.Clone()
	if out.Headers == nil {
		out.Headers = make(http.Header)
	}

	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}

	out.Metadata = make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}

	return &out
}

// Response is a raw reply. The body is fully read by the transport.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// ContentType returns the media type of the body without parameters.
func (r *Response) ContentType() string {
	ct, _, _ := strings.Cut(r.Headers.Get("Content-Type"), ";")

	return strings.ToLower(strings.TrimSpace(ct))
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}
