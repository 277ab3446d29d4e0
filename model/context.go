package model

// Context holds request/response metadata and labels for a transaction.
type Context struct {
	Request  *Request
	Response *Response
	User     *User
	Labels   map[string]string
}

// Request describes an incoming HTTP or RPC request.
type Request struct {
	Method      string
	URL         string
	HTTPVersion string
	Headers     map[string]string
	RemoteAddr  string
}

// Response describes the response sent for a request.
type Response struct {
	StatusCode  int
	HeadersSent bool
}

// User identifies the end user of a request.
type User struct {
	ID       string
	Username string
	Email    string
}

// SpanContext holds exit-span metadata and labels for a span.
type SpanContext struct {
	Destination *Destination
	Database    *Database
	HTTP        *HTTPSpan
	Labels      map[string]string
}

// Destination describes the downstream service an exit span calls.
type Destination struct {
	Address  string
	Port     int
	Resource string
}

// Database describes a database call.
type Database struct {
	Instance  string
	Statement string
	Type      string
	User      string
}

// HTTPSpan describes an outgoing HTTP request.
type HTTPSpan struct {
	URL        string
	Method     string
	StatusCode int
}

// Clone returns a deep copy so a record never aliases a live segment.
func (c Context) Clone() Context {
	out := Context{Labels: cloneLabels(c.Labels)}
	if c.Request != nil {
		r := *c.Request
		r.Headers = cloneLabels(c.Request.Headers)
		out.Request = &r
	}
	if c.Response != nil {
		r := *c.Response
		out.Response = &r
	}
	if c.User != nil {
		u := *c.User
		out.User = &u
	}
	return out
}

// Clone returns a deep copy so a record never aliases a live segment.
func (c SpanContext) Clone() SpanContext {
	out := SpanContext{Labels: cloneLabels(c.Labels)}
	if c.Destination != nil {
		d := *c.Destination
		out.Destination = &d
	}
	if c.Database != nil {
		d := *c.Database
		out.Database = &d
	}
	if c.HTTP != nil {
		h := *c.HTTP
		out.HTTP = &h
	}
	return out
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
