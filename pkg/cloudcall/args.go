package cloudcall

// NamedValue is one argument binding.
type NamedValue struct {
	Name  string
	Value any
}

// Args holds the actual values bound for one invocation. Binding a name more
// than once is only legal for multi-valued parameters.
type Args struct {
	values  []NamedValue
	options []*Options
}

// NewArgs creates an empty argument set.
func NewArgs() *Args {
	return &Args{}
}

// Bind appends a value for name.
func (a *Args) Bind(name string, value any) *Args {
	a.values = append(a.values, NamedValue{Name: name, Value: value})

	return a
}

// WithOptions appends trailing option sets. They are merged after every
// declared parameter and override same-named keys.
func (a *Args) WithOptions(opts ...*Options) *Args {
	for _, o := range opts {
		if o != nil {
			a.options = append(a.options, o)
		}
	}

	return a
}

// Lookup returns every value bound to name in call order.
func (a *Args) Lookup(name string) []any {
	if a == nil {
		return nil
	}

	var out []any

	for _, v := range a.values {
		if v.Name == name {
			out = append(out, v.Value)
		}
	}

	return out
}

// Bound returns all bindings in call order.
func (a *Args) Bound() []NamedValue {
	if a == nil {
		return nil
	}

	return append([]NamedValue(nil), a.values...)
}

// Options returns the trailing option sets in call order.
func (a *Args) Options() []*Options {
	if a == nil {
		return nil
	}

	return append([]*Options(nil), a.options...)
}

// Options is a trailing, provider-specific set of optional request values,
// the equivalent of the listAsyncJobs(options...) pattern.
type Options struct {
	query   *OrderedValues
	headers *OrderedValues
	form    *OrderedValues
}

// NewOptions creates an empty option set.
func NewOptions() *Options {
	return &Options{
		query:   NewOrderedValues(),
		headers: NewOrderedValues(),
		form:    NewOrderedValues(),
	}
}

// Query sets a query parameter.
func (o *Options) Query(key, value string) *Options {
	o.query.Set(key, value)

	return o
}

// Header sets a request header.
func (o *Options) Header(key, value string) *Options {
	o.headers.Set(key, value)

	return o
}

// Form sets a body field.
func (o *Options) Form(key, value string) *Options {
	o.form.Set(key, value)

	return o
}

// QueryPairs returns the query entries in order.
func (o *Options) QueryPairs() []Pair {
	return o.query.Pairs()
}

// HeaderPairs returns the header entries in order.
func (o *Options) HeaderPairs() []Pair {
	return o.headers.Pairs()
}

// FormPairs returns the body entries in order.
func (o *Options) FormPairs() []Pair {
	return o.form.Pairs()
}
