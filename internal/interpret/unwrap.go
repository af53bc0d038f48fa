package interpret

import (
	"fmt"
	"strings"

	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Unwrap strips depth envelope levels from doc. At each level a map with a
// single key descends into that key and a map with several keys descends
// into its only non-scalar child. An empty map stops descent and reports the
// payload absent. Anything else is a malformed response.
func Unwrap(doc any, depth int) (any, bool, error) {
	current := doc

	for level := range depth {
		envelope, ok := current.(map[string]any)
		if !ok {
			return nil, false, &cloudcall.Error{
				Kind:   cloudcall.KindMalformedResponse,
				Detail: fmt.Sprintf("cannot unwrap %T at level %d", current, level+1),
			}
		}

		if len(envelope) == 0 {
			return nil, true, nil
		}

		next, err := envelopeContent(envelope)
		if err != nil {
			return nil, false, &cloudcall.Error{
				Kind:   cloudcall.KindMalformedResponse,
				Detail: fmt.Sprintf("cannot unwrap level %d", level+1),
				Err:    err,
			}
		}

		current = next
	}

	return current, current == nil, nil
}

func envelopeContent(envelope map[string]any) (any, error) {
	if len(envelope) == 1 {
		for _, v := range envelope {
			return v, nil
		}
	}

	var (
		found any
		keys  []string
	)

	for k, v := range envelope {
		switch v.(type) {
		case map[string]any, []any:
			found = v

			keys = append(keys, k)
		}
	}

	if len(keys) != 1 {
		return nil, fmt.Errorf("%w: %d structured children", errAmbiguousEnvelope, len(keys))
	}

	return found, nil
}

// Lookup follows a dotted path such as "Tasks.Task.@href" through nested
// maps. A list on the way is entered at its first element.
func Lookup(doc any, path string) (any, bool) {
	current := doc

	for _, segment := range strings.Split(path, ".") {
		if list, ok := current.([]any); ok {
			if len(list) == 0 {
				return nil, false
			}

			current = list[0]
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
