package cloudcall

import (
	"net/url"
	"strings"
)

// Pair is one key/value entry of an OrderedValues.
type Pair struct {
	Key   string
	Value string
}

// OrderedValues is a query or form value list that keeps insertion order.
// Encode is therefore deterministic without sorting keys.
type OrderedValues struct {
	pairs []Pair
}

// NewOrderedValues creates an empty value list.
func NewOrderedValues() *OrderedValues {
	return &OrderedValues{}
}

// Add appends a value for key.
func (v *OrderedValues) Add(key, value string) {
	v.pairs = append(v.pairs, Pair{Key: key, Value: value})
}

// Set replaces every value of key with value, keeping the position of the
// first occurrence. A new key is appended.
func (v *OrderedValues) Set(key, value string) {
	idx := -1
	kept := v.pairs[:0]

	for _, p := range v.pairs {
		if p.Key != key {
			kept = append(kept, p)

			continue
		}

		if idx == -1 {
			idx = len(kept)
			kept = append(kept, Pair{Key: key, Value: value})
		}
	}

	v.pairs = kept
	if idx == -1 {
		v.pairs = append(v.pairs, Pair{Key: key, Value: value})
	}
}

// Get returns the first value of key.
func (v *OrderedValues) Get(key string) string {
	for _, p := range v.pairs {
		if p.Key == key {
			return p.Value
		}
	}

	return ""
}

// Values returns every value of key in insertion order.
func (v *OrderedValues) Values(key string) []string {
	var out []string

	for _, p := range v.pairs {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}

	return out
}

// Has reports whether key is present.
func (v *OrderedValues) Has(key string) bool {
	for _, p := range v.pairs {
		if p.Key == key {
			return true
		}
	}

	return false
}

// Del removes every value of key.
func (v *OrderedValues) Del(key string) {
	kept := v.pairs[:0]

	for _, p := range v.pairs {
		if p.Key != key {
			kept = append(kept, p)
		}
	}

	v.pairs = kept
}

// Len returns the number of pairs.
func (v *OrderedValues) Len() int {
	if v == nil {
		return 0
	}

	return len(v.pairs)
}

// Pairs returns a copy of the pairs in order.
func (v *OrderedValues) Pairs() []Pair {
	if v == nil {
		return nil
	}

	out := make([]Pair, len(v.pairs))
	copy(out, v.pairs)

	return out
}

// Clone returns an independent copy.
func (v *OrderedValues) Clone() *OrderedValues {
	return &OrderedValues{pairs: v.Pairs()}
}

// Encode renders the pairs as a URL-encoded string in insertion order.
func (v *OrderedValues) Encode() string {
	if v.Len() == 0 {
		return ""
	}

	var b strings.Builder

	for i, p := range v.pairs {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}

	return b.String()
}

// URLValues converts to url.Values.
func (v *OrderedValues) URLValues() url.Values {
	out := url.Values{}

	for _, p := range v.Pairs() {
		out.Add(p.Key, p.Value)
	}

	return out
}
