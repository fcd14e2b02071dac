// Package query serves filtered, paginated reads of the persisted audit trail.
package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"auditrelay/internal/platform/metrics"
	audit "auditrelay/pkg/platform/audit"
)

// Default page sizes used when the configured values are not positive.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service translates pagination requests into store reads. It keeps no
// state between calls and is safe for concurrent use.
type Service struct {
	store           audit.Reader
	defaultPageSize int
	maxPageSize     int

	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithPageSizes overrides the default and maximum page size.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *Service) {
		if defaultSize > 0 {
			s.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			s.maxPageSize = maxSize
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for the stats timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store audit.Reader, opts ...Option) *Service {
	s := &Service{
		store:           store,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		tracer:          otel.Tracer("auditrelay/query"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPageSize > s.maxPageSize {
		s.defaultPageSize = s.maxPageSize
	}
	return s
}

// Normalize clamps page to at least 1 and page size to [1, max], using the
// default when no size was given.
func (s *Service) Normalize(req audit.PaginationRequest) (page, pageSize int) {
	page = max(req.Page, 1)
	pageSize = s.defaultPageSize
	if req.PageSize != nil {
		pageSize = min(max(*req.PageSize, 1), s.maxPageSize)
	}
	return page, pageSize
}

// List returns one page of entries matching req, newest first. Store
// failures are wrapped with audit.ErrQuery.
func (s *Service) List(ctx context.Context, req audit.PaginationRequest) (audit.Page, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveQueryLatency("list", time.Since(start)) }()

	page, pageSize := s.Normalize(req)
	filter := req.Filter()

	ctx, span := s.tracer.Start(ctx, "audit.query.list", trace.WithAttributes(
		attribute.Int("audit.page", page),
		attribute.Int("audit.page_size", pageSize),
	))
	defer span.End()

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return audit.Page{}, audit.Wrap(audit.ErrQuery, err)
	}

	meta := audit.NewPaginationMetadata(page, pageSize, total)
	// Past the last page. Compared by page index so the offset cannot overflow.
	if total == 0 || int64(page-1) > (total-1)/int64(pageSize) {
		return audit.Page{Data: []audit.AuditEntry{}, Metadata: meta}, nil
	}
	offset := (page - 1) * pageSize

	data, err := s.store.Find(ctx, filter, offset, pageSize)
	if err != nil {
		span.RecordError(err)
		return audit.Page{}, audit.Wrap(audit.ErrQuery, err)
	}
	if data == nil {
		data = []audit.AuditEntry{}
	}
	return audit.Page{Data: data, Metadata: meta}, nil
}

// Get returns a single entry. An unknown id yields an error wrapping both
// audit.ErrQuery and sentinel.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (audit.AuditEntry, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveQueryLatency("get", time.Since(start)) }()

	e, err := s.store.FindByID(ctx, id)
	if err != nil {
		return audit.AuditEntry{}, audit.Wrap(audit.ErrQuery, err)
	}
	return e, nil
}

// Stats reports the total number of stored entries. LastUpdated is the time
// of the call.
func (s *Service) Stats(ctx context.Context) (audit.Stats, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveQueryLatency("stats", time.Since(start)) }()

	n, err := s.store.CountAll(ctx)
	if err != nil {
		return audit.Stats{}, audit.Wrap(audit.ErrQuery, err)
	}
	return audit.Stats{TotalEntries: n, LastUpdated: s.now().UTC()}, nil
}
