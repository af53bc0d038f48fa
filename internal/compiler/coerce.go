package compiler

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cast"

	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Static errors for err113 compliance.
var (
	ErrNotAbsoluteURI = errors.New("value is not an absolute URI")
	ErrUnknownType    = errors.New("unknown value type")
)

// coerce converts a bound argument to its wire string per the declared type.
func coerce(typ cloudcall.ValueType, value any) (string, error) {
	switch typ {
	case cloudcall.TypeString, cloudcall.TypeAny, "":
		if u, ok := value.(*url.URL); ok {
			return u.String(), nil
		}

		s, err := cast.ToStringE(value)
		if err != nil {
			return "", fmt.Errorf("coercing to string: %w", err)
		}

		return s, nil
	case cloudcall.TypeInt:
		n, err := cast.ToInt64E(value)
		if err != nil {
			return "", fmt.Errorf("coercing to int: %w", err)
		}

		return strconv.FormatInt(n, 10), nil
	case cloudcall.TypeBool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return "", fmt.Errorf("coercing to bool: %w", err)
		}

		return strconv.FormatBool(b), nil
	case cloudcall.TypeURI:
		var raw string

		if u, ok := value.(*url.URL); ok {
			raw = u.String()
		} else {
			s, err := cast.ToStringE(value)
			if err != nil {
				return "", fmt.Errorf("coercing to uri: %w", err)
			}

			raw = s
		}

		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parsing uri: %w", err)
		}

		if !u.IsAbs() || u.Host == "" {
			return "", fmt.Errorf("%w: %q", ErrNotAbsoluteURI, raw)
		}

		return u.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
}
