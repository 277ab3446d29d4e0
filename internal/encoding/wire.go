package encoding

import (
	"path/filepath"
	"time"

	"github.com/GriffinCanCode/apmagent/internal/shared/id"
	"github.com/GriffinCanCode/apmagent/model"
)

// Wire structs for the intake v2 NDJSON protocol. Timestamps are
// microseconds since the epoch, durations are float milliseconds.

type metadataLine struct {
	Metadata wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	Service wireService       `json:"service"`
	Process wireProcess       `json:"process"`
	System  wireSystem        `json:"system"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type wireService struct {
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	Environment string      `json:"environment,omitempty"`
	Agent       wireAgent   `json:"agent"`
	Language    wireNameVer `json:"language"`
	Runtime     wireNameVer `json:"runtime"`
}

type wireAgent struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	EphemeralID string `json:"ephemeral_id,omitempty"`
}

type wireNameVer struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type wireProcess struct {
	PID   int      `json:"pid"`
	PPID  int      `json:"ppid,omitempty"`
	Title string   `json:"title,omitempty"`
	Argv  []string `json:"argv,omitempty"`
}

type wireSystem struct {
	Hostname     string `json:"hostname,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

type transactionLine struct {
	Transaction wireTransaction `json:"transaction"`
}

type wireTransaction struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"trace_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Result     string         `json:"result,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	Duration   float64        `json:"duration"`
	Outcome    string         `json:"outcome,omitempty"`
	Sampled    bool           `json:"sampled"`
	SampleRate *float64       `json:"sample_rate,omitempty"`
	SpanCount  wireSpanCount  `json:"span_count"`
	Context    *wireTxContext `json:"context,omitempty"`
}

type wireSpanCount struct {
	Started int `json:"started"`
	Dropped int `json:"dropped"`
}

type wireTxContext struct {
	Request  *wireRequest      `json:"request,omitempty"`
	Response *wireResponse     `json:"response,omitempty"`
	User     *wireUser         `json:"user,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

type wireRequest struct {
	Method      string            `json:"method"`
	URL         wireURL           `json:"url"`
	HTTPVersion string            `json:"http_version,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Socket      *wireSocket       `json:"socket,omitempty"`
}

type wireURL struct {
	Full string `json:"full"`
}

type wireSocket struct {
	RemoteAddress string `json:"remote_address"`
}

type wireResponse struct {
	StatusCode  int  `json:"status_code,omitempty"`
	HeadersSent bool `json:"headers_sent"`
}

type wireUser struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type spanLine struct {
	Span wireSpan `json:"span"`
}

type wireSpan struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id,omitempty"`
	ParentID      string           `json:"parent_id"`
	TraceID       string           `json:"trace_id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Subtype       string           `json:"subtype,omitempty"`
	Action        string           `json:"action,omitempty"`
	Timestamp     int64            `json:"timestamp"`
	Duration      float64          `json:"duration"`
	Outcome       string           `json:"outcome,omitempty"`
	Stacktrace    []wireFrame      `json:"stacktrace,omitempty"`
	Context       *wireSpanContext `json:"context,omitempty"`
}

type wireSpanContext struct {
	Destination *wireDestination  `json:"destination,omitempty"`
	DB          *wireDB           `json:"db,omitempty"`
	HTTP        *wireHTTPSpan     `json:"http,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type wireDestination struct {
	Address string                 `json:"address,omitempty"`
	Port    int                    `json:"port,omitempty"`
	Service wireDestinationService `json:"service"`
}

type wireDestinationService struct {
	Resource string `json:"resource"`
}

type wireDB struct {
	Instance  string `json:"instance,omitempty"`
	Statement string `json:"statement,omitempty"`
	Type      string `json:"type,omitempty"`
	User      string `json:"user,omitempty"`
}

type wireHTTPSpan struct {
	URL        string `json:"url,omitempty"`
	Method     string `json:"method,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

type wireFrame struct {
	Function string `json:"function,omitempty"`
	Module   string `json:"module,omitempty"`
	Filename string `json:"filename"`
	AbsPath  string `json:"abs_path,omitempty"`
	Lineno   int    `json:"lineno"`
}

type errorLine struct {
	Error wireError `json:"error"`
}

type wireError struct {
	ID            string            `json:"id"`
	TraceID       string            `json:"trace_id,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	ParentID      string            `json:"parent_id,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	Culprit       string            `json:"culprit,omitempty"`
	Exception     *wireException    `json:"exception,omitempty"`
	Log           *wireLog          `json:"log,omitempty"`
	Transaction   *wireErrorTxState `json:"transaction,omitempty"`
}

type wireException struct {
	Message    string      `json:"message"`
	Type       string      `json:"type,omitempty"`
	Handled    bool        `json:"handled"`
	Stacktrace []wireFrame `json:"stacktrace,omitempty"`
}

type wireLog struct {
	Message    string `json:"message"`
	Level      string `json:"level,omitempty"`
	LoggerName string `json:"logger_name,omitempty"`
}

type wireErrorTxState struct {
	Sampled bool   `json:"sampled"`
	Type    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
}

type metricsetLine struct {
	Metricset wireMetricset `json:"metricset"`
}

type wireMetricset struct {
	Timestamp int64                 `json:"timestamp"`
	Tags      map[string]string     `json:"tags,omitempty"`
	Samples   map[string]wireSample `json:"samples"`
}

type wireSample struct {
	Value float64 `json:"value"`
}

func micros(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func spanHex(s id.SpanID) string {
	if s.IsZero() {
		return ""
	}
	return s.String()
}

func traceHex(t id.TraceID) string {
	if t.IsZero() {
		return ""
	}
	return t.String()
}

func toWireMetadata(md *model.Metadata) wireMetadata {
	return wireMetadata{
		Service: wireService{
			Name:        md.Service.Name,
			Version:     md.Service.Version,
			Environment: md.Service.Environment,
			Agent: wireAgent{
				Name:        md.Service.AgentName,
				Version:     md.Service.AgentVersion,
				EphemeralID: md.Service.EphemeralID,
			},
			Language: wireNameVer{Name: md.Service.LanguageName},
			Runtime:  wireNameVer{Name: md.Service.RuntimeName, Version: md.Service.RuntimeVersion},
		},
		Process: wireProcess{
			PID:   md.Process.PID,
			PPID:  md.Process.PPID,
			Title: md.Process.Title,
			Argv:  md.Process.Argv,
		},
		System: wireSystem{
			Hostname:     md.System.Hostname,
			Architecture: md.System.Architecture,
			Platform:     md.System.Platform,
		},
		Labels: md.Labels,
	}
}

func toWireTransaction(tx *model.Transaction) wireTransaction {
	w := wireTransaction{
		ID:        spanHex(tx.ID),
		TraceID:   traceHex(tx.TraceID),
		ParentID:  spanHex(tx.ParentID),
		Name:      tx.Name,
		Type:      tx.Type,
		Result:    tx.Result,
		Timestamp: micros(tx.Timestamp),
		Duration:  millis(tx.Duration),
		Outcome:   string(tx.Outcome),
		Sampled:   tx.Sampled,
		SpanCount: wireSpanCount{Started: tx.SpanCount.Started, Dropped: tx.SpanCount.Dropped},
	}
	// A rate of 1 is the collector default and is omitted.
	if tx.SampleRate != 1 {
		rate := tx.SampleRate
		w.SampleRate = &rate
	}

	c := tx.Context
	if c.Request == nil && c.Response == nil && c.User == nil && len(c.Labels) == 0 {
		return w
	}
	wc := &wireTxContext{Tags: c.Labels}
	if r := c.Request; r != nil {
		wc.Request = &wireRequest{
			Method:      r.Method,
			URL:         wireURL{Full: r.URL},
			HTTPVersion: r.HTTPVersion,
			Headers:     r.Headers,
		}
		if r.RemoteAddr != "" {
			wc.Request.Socket = &wireSocket{RemoteAddress: r.RemoteAddr}
		}
	}
	if r := c.Response; r != nil {
		wc.Response = &wireResponse{StatusCode: r.StatusCode, HeadersSent: r.HeadersSent}
	}
	if u := c.User; u != nil {
		wc.User = &wireUser{ID: u.ID, Username: u.Username, Email: u.Email}
	}
	w.Context = wc
	return w
}

func toWireSpan(s *model.Span) wireSpan {
	w := wireSpan{
		ID:            spanHex(s.ID),
		TransactionID: spanHex(s.TransactionID),
		ParentID:      spanHex(s.ParentID),
		TraceID:       traceHex(s.TraceID),
		Name:          s.Name,
		Type:          s.Type,
		Subtype:       s.Subtype,
		Action:        s.Action,
		Timestamp:     micros(s.Timestamp),
		Duration:      millis(s.Duration),
		Outcome:       string(s.Outcome),
		Stacktrace:    toWireFrames(s.Stacktrace),
	}

	c := s.Context
	if c.Destination == nil && c.Database == nil && c.HTTP == nil && len(c.Labels) == 0 {
		return w
	}
	wc := &wireSpanContext{Tags: c.Labels}
	if d := c.Destination; d != nil {
		wc.Destination = &wireDestination{
			Address: d.Address,
			Port:    d.Port,
			Service: wireDestinationService{Resource: d.Resource},
		}
	}
	if db := c.Database; db != nil {
		wc.DB = &wireDB{Instance: db.Instance, Statement: db.Statement, Type: db.Type, User: db.User}
	}
	if h := c.HTTP; h != nil {
		wc.HTTP = &wireHTTPSpan{URL: h.URL, Method: h.Method, StatusCode: h.StatusCode}
	}
	w.Context = wc
	return w
}

func toWireError(e *model.Error) wireError {
	w := wireError{
		ID:            spanHex(e.ID),
		TraceID:       traceHex(e.TraceID),
		TransactionID: spanHex(e.TransactionID),
		ParentID:      spanHex(e.ParentID),
		Timestamp:     micros(e.Timestamp),
		Culprit:       e.Culprit,
	}
	if ex := e.Exception; ex != nil {
		w.Exception = &wireException{
			Message:    ex.Message,
			Type:       ex.Type,
			Handled:    ex.Handled,
			Stacktrace: toWireFrames(ex.Stacktrace),
		}
	}
	if l := e.Log; l != nil {
		w.Log = &wireLog{Message: l.Message, Level: l.Level, LoggerName: l.LoggerName}
	}
	if !e.TransactionID.IsZero() {
		w.Transaction = &wireErrorTxState{
			Sampled: e.Transaction.Sampled,
			Type:    e.Transaction.Type,
			Name:    e.Transaction.Name,
		}
	}
	return w
}

func toWireMetricset(m *model.MetricSet) wireMetricset {
	samples := make(map[string]wireSample, len(m.Samples))
	for name, v := range m.Samples {
		samples[name] = wireSample{Value: v}
	}
	return wireMetricset{
		Timestamp: micros(m.Timestamp),
		Tags:      m.Labels,
		Samples:   samples,
	}
}

func toWireFrames(frames []model.StackFrame) []wireFrame {
	if len(frames) == 0 {
		return nil
	}
	out := make([]wireFrame, len(frames))
	for i, f := range frames {
		out[i] = wireFrame{
			Function: f.Function,
			Module:   f.Module,
			Filename: filepath.Base(f.File),
			AbsPath:  f.File,
			Lineno:   f.Line,
		}
	}
	return out
}
