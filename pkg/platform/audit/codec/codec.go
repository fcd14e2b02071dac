// Package codec defines the broker wire format for audit entries: the message
// key is the entry id and the value is a JSON document with camelCase fields.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	audit "auditrelay/pkg/platform/audit"
)

// payload mirrors audit.AuditEntry on the wire. Timestamps travel as
// RFC3339Nano strings so producers and consumers in other languages agree.
type payload struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Method         string `json:"method"`
	Path           string `json:"path"`
	QueryString    string `json:"queryString,omitempty"`
	RequestBody    string `json:"requestBody,omitempty"`
	ResponseBody   string `json:"responseBody,omitempty"`
	StatusCode     int    `json:"statusCode"`
	ResponseTimeMs int64  `json:"responseTime"`
	UserAgent      string `json:"userAgent,omitempty"`
	RemoteIP       string `json:"remoteIpAddress,omitempty"`
}

// Encode returns the message key and value for an entry. Bodies travel as
// JSON strings, so invalid UTF-8 in them comes back as U+FFFD.
func Encode(entry audit.AuditEntry) (key, value []byte, err error) {
	if entry.ID == "" {
		return nil, nil, errors.New("encode audit entry: missing id")
	}
	value, err = json.Marshal(payload{
		ID:             entry.ID,
		Timestamp:      entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Method:         entry.Method,
		Path:           entry.Path,
		QueryString:    entry.QueryString,
		RequestBody:    entry.RequestBody,
		ResponseBody:   entry.ResponseBody,
		StatusCode:     entry.StatusCode,
		ResponseTimeMs: entry.ResponseTimeMs,
		UserAgent:      entry.UserAgent,
		RemoteIP:       entry.RemoteIP,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode audit entry %s: %w", entry.ID, err)
	}
	return []byte(entry.ID), value, nil
}

// Decode parses a broker message back into an entry. Every failure wraps
// audit.ErrDecode; callers skip such messages rather than retrying them.
func Decode(key, value []byte) (audit.AuditEntry, error) {
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrDecode, fmt.Errorf("unmarshal payload: %w", err))
	}

	if p.ID == "" {
		p.ID = string(key)
	}
	if p.ID == "" {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrDecode, errors.New("missing id"))
	}
	if len(key) > 0 && string(key) != p.ID {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrDecode,
			fmt.Errorf("key %q does not match payload id %q", key, p.ID))
	}
	if strings.TrimSpace(p.Method) == "" {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrDecode, fmt.Errorf("entry %s: missing method", p.ID))
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrDecode, fmt.Errorf("entry %s: parse timestamp: %w", p.ID, err))
	}

	return audit.AuditEntry{
		ID:             p.ID,
		Timestamp:      ts.UTC(),
		Method:         p.Method,
		Path:           p.Path,
		QueryString:    p.QueryString,
		RequestBody:    p.RequestBody,
		ResponseBody:   p.ResponseBody,
		StatusCode:     p.StatusCode,
		ResponseTimeMs: p.ResponseTimeMs,
		UserAgent:      p.UserAgent,
		RemoteIP:       p.RemoteIP,
	}, nil
}
