package interpret

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Cloud Foundry v3 error codes.
const (
	cfCodeNotFound         = 10010
	cfCodeNotAuthenticated = 10002
	cfCodeNotAuthorized    = 10003
	cfCodeTooManyRequests  = 10013
	cfCodeUniqueness       = 10016
)

// CloudStack API error codes.
const (
	csCodeUnauthorized  = 401
	csCodeNotFound      = 404
	csCodeConflict      = 409
	csCodeParamError    = 431
	csCodeAccountError  = 432
	csCodeAccountLimit  = 531
	csCodeResourceInUse = 536
	csCodeRuleConflict  = 537
)

func builtinMappers() map[string]cloudcall.ExceptionMapper {
	return map[string]cloudcall.ExceptionMapper{
		cloudcall.MapperAbsorbEmpty: absorb404(func(*cloudcall.OperationDescriptor) *cloudcall.Result {
			return cloudcall.EmptyCollection()
		}),
		cloudcall.MapperAbsorbNull: absorb404(func(*cloudcall.OperationDescriptor) *cloudcall.Result {
			return cloudcall.AbsentResult(cloudcall.ShapeSingleton)
		}),
		cloudcall.MapperAbsorbVoid: absorb404(func(*cloudcall.OperationDescriptor) *cloudcall.Result {
			return cloudcall.AbsentResult(cloudcall.ShapeVoid)
		}),
		cloudcall.MapperRateLimit:  cloudcall.MapperFunc(mapRateLimit),
		cloudcall.MapperConflict:   cloudcall.MapperFunc(mapConflict),
		cloudcall.MapperCFErrors:   cloudcall.MapperFunc(mapCFErrors),
		cloudcall.MapperCloudStack: cloudcall.MapperFunc(mapCloudStackErrors),
	}
}

// absorb404 turns a 404 into the non-error result built by empty.
func absorb404(empty func(*cloudcall.OperationDescriptor) *cloudcall.Result) cloudcall.ExceptionMapper {
	return cloudcall.MapperFunc(func(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
		if resp.StatusCode != http.StatusNotFound {
			return nil, nil
		}

		return empty(desc), nil
	})
}

func mapRateLimit(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	if resp.StatusCode != http.StatusTooManyRequests {
		return nil, nil
	}

	return nil, &cloudcall.Error{
		Kind:       cloudcall.KindRateLimited,
		Op:         desc.Name,
		StatusCode: resp.StatusCode,
		Detail:     bodySnippet(resp.Body),
		RetryAfter: RetryAfter(resp.Headers.Get(constants.HeaderRetryAfter), time.Now()),
	}
}

func mapConflict(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	if resp.StatusCode != http.StatusConflict {
		return nil, nil
	}

	return nil, &cloudcall.Error{
		Kind:       cloudcall.KindConflict,
		Op:         desc.Name,
		StatusCode: resp.StatusCode,
		Detail:     bodySnippet(resp.Body),
	}
}

type cfError struct {
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type cfErrorResponse struct {
	Errors []cfError `json:"errors"`
}

// mapCFErrors reads a Cloud Foundry v3 error document.
func mapCFErrors(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	var doc cfErrorResponse

	err := json.Unmarshal(resp.Body, &doc)
	if err != nil || len(doc.Errors) == 0 {
		return nil, nil
	}

	first := doc.Errors[0]

	kind := extendedKind(resp.StatusCode)

	switch first.Code {
	case cfCodeNotFound:
		kind = cloudcall.KindNotFound
	case cfCodeNotAuthenticated, cfCodeNotAuthorized:
		kind = cloudcall.KindUnauthorized
	case cfCodeTooManyRequests:
		kind = cloudcall.KindRateLimited
	case cfCodeUniqueness:
		kind = cloudcall.KindConflict
	}

	return nil, &cloudcall.Error{
		Kind:       kind,
		Op:         desc.Name,
		StatusCode: resp.StatusCode,
		Detail:     first.Title + ": " + first.Detail,
	}
}

// mapCloudStackErrors reads a CloudStack {"<command>response":{"errorcode",
// "errortext"}} document.
func mapCloudStackErrors(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	var doc map[string]map[string]any

	err := json.Unmarshal(resp.Body, &doc)
	if err != nil {
		return nil, nil
	}

	for key, body := range doc {
		if !strings.HasSuffix(strings.ToLower(key), "response") {
			continue
		}

		rawCode, ok := body["errorcode"]
		if !ok {
			continue
		}

		code := cast.ToInt(rawCode)

		return nil, &cloudcall.Error{
			Kind:       CloudStackKind(code),
			Op:         desc.Name,
			StatusCode: resp.StatusCode,
			Detail:     cast.ToString(body["errortext"]),
		}
	}

	return nil, nil
}

// CloudStackKind classifies a CloudStack error code.
func CloudStackKind(code int) cloudcall.ErrorKind {
	switch code {
	case csCodeUnauthorized, csCodeAccountError, csCodeAccountLimit:
		return cloudcall.KindUnauthorized
	case csCodeNotFound:
		return cloudcall.KindNotFound
	case csCodeConflict, csCodeResourceInUse, csCodeRuleConflict:
		return cloudcall.KindConflict
	case csCodeParamError:
		return cloudcall.KindInvalidArguments
	default:
		return extendedKind(code)
	}
}

// extendedKind is KindForStatus plus the statuses provider documents spell
// out explicitly.
func extendedKind(status int) cloudcall.ErrorKind {
	switch status {
	case http.StatusConflict:
		return cloudcall.KindConflict
	case http.StatusTooManyRequests:
		return cloudcall.KindRateLimited
	default:
		return cloudcall.KindForStatus(status)
	}
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(value)
	if err == nil {
		if seconds < 0 {
			return 0
		}

		return time.Duration(seconds) * time.Second
	}

	when, err := http.ParseTime(value)
	if err != nil || !when.After(now) {
		return 0
	}

	return when.Sub(now)
}

func bodySnippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > constants.MaxLoggedBody {
		return text[:constants.MaxLoggedBody] + "..."
	}

	return text
}
