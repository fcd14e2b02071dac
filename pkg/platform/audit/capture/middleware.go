// Package capture records every HTTP exchange as an audit entry.
//
// The middleware never fails a request on its own account: body read errors
// are logged and the field is left empty. The entry is built once the
// wrapped handler has returned (or panicked) and handed to the sink.
package capture

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"auditrelay/internal/platform/metrics"
	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/middleware/metadata"
)

// Sink receives finished entries. buffer.Buffer satisfies it.
type Sink interface {
	Add(entry audit.AuditEntry)
}

// Config controls what is recorded.
type Config struct {
	// MaxBodyBytes caps the recorded body text; 0 records bodies whole.
	// Handlers and clients always see the full bodies.
	MaxBodyBytes int
	// SkipPaths are passed through without an entry. A path matches when it
	// equals an entry or is below it.
	SkipPaths []string
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP.
	TrustProxyHeaders bool
}

// Interceptor is the capture middleware.
type Interceptor struct {
	sink Sink
	cfg  Config

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures the Interceptor.
type Option func(*Interceptor)

// WithLogger sets a logger for capture errors.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interceptor) {
		i.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Interceptor) {
		i.metrics = m
	}
}

func New(sink Sink, cfg Config, opts ...Option) *Interceptor {
	i := &Interceptor{sink: sink, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Middleware wraps next so that every request it serves is recorded.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := i.now()
		entry := audit.AuditEntry{
			Method:    strings.ToUpper(r.Method),
			Path:      r.URL.Path,
			UserAgent: r.UserAgent(),
			RemoteIP:  metadata.ClientIPFromRequest(r, i.cfg.TrustProxyHeaders),
		}
		if r.URL.RawQuery != "" {
			entry.QueryString = "?" + r.URL.RawQuery
		}
		entry.RequestBody = i.readRequestBody(r)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		respBody := &cappedBuffer{limit: i.cfg.MaxBodyBytes}
		ww.Tee(respBody)

		defer func() {
			rec := recover()

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if rec != nil {
				status = http.StatusInternalServerError
			}

			entry.ID = newID()
			entry.Timestamp = start.UTC().Truncate(time.Microsecond)
			entry.StatusCode = status
			entry.ResponseTimeMs = i.now().Sub(start).Milliseconds()
			entry.ResponseBody = respBody.String()

			i.sink.Add(entry)
			i.metrics.IncCaptured()

			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func (i *Interceptor) skip(path string) bool {
	for _, p := range i.cfg.SkipPaths {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// readRequestBody records the body of mutating requests with a declared
// length and rewinds it for the handler.
func (i *Interceptor) readRequestBody(r *http.Request) string {
	if r.ContentLength <= 0 || r.Body == nil {
		return ""
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return ""
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		// Hand the handler whatever was read plus the failing remainder.
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), r.Body), Closer: r.Body}
		i.metrics.IncCaptureFailures()
		if i.logger != nil {
			i.logger.WarnContext(r.Context(), "request body not captured",
				"path", r.URL.Path,
				"error", audit.Wrap(audit.ErrCapture, err),
			)
		}
		return ""
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))

	if i.cfg.MaxBodyBytes > 0 && len(data) > i.cfg.MaxBodyBytes {
		data = trimPartialRune(data[:i.cfg.MaxBodyBytes])
	}
	return string(data)
}

type readCloser struct {
	io.Reader
	io.Closer
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// trimPartialRune drops a UTF-8 sequence cut short at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			return b
		}
	}
	return b
}

// cappedBuffer keeps at most limit bytes (unlimited when limit is 0) and
// never reports a short write, so the tee never fails the response.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if c.limit > 0 {
		room := c.limit - c.buf.Len()
		if len(p) > room {
			c.truncated = true
			p = p[:max(room, 0)]
		}
	}
	c.buf.Write(p)
	return n, nil
}

// String returns the kept text. A rune split by the cap is dropped whole.
func (c *cappedBuffer) String() string {
	if c.truncated {
		return string(trimPartialRune(c.buf.Bytes()))
	}
	return c.buf.String()
}
