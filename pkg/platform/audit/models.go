package audit

import (
	"math"
	"strings"
	"time"
)

// AuditEntry is one recorded HTTP request/response cycle. It is built once by
// the capture middleware after the wrapped handler returns and is never
// mutated afterwards; every stage downstream treats it as a value.
//
// Optional text fields use the empty string for "absent".
type AuditEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	QueryString    string    `json:"queryString,omitempty"`
	RequestBody    string    `json:"requestBody,omitempty"`
	ResponseBody   string    `json:"responseBody,omitempty"`
	StatusCode     int       `json:"statusCode"`
	ResponseTimeMs int64     `json:"responseTime"`
	UserAgent      string    `json:"userAgent,omitempty"`
	RemoteIP       string    `json:"remoteIpAddress,omitempty"`
}

// PaginationRequest is the caller-supplied query shape. Zero values mean
// "no filter"; PageSize nil means "use the configured default".
type PaginationRequest struct {
	Page       int
	PageSize   *int
	SearchTerm string
	Method     string
	StatusCode *int
	StartDate  *time.Time
	EndDate    *time.Time
}

// Filter is the normalized, store-facing part of a PaginationRequest.
// All set fields are ANDed; SearchTerm is matched case-insensitively against
// path, query string, request body and response body (ORed).
type Filter struct {
	SearchTerm string
	Method     string
	StatusCode *int
	StartDate  *time.Time
	EndDate    *time.Time
}

// Filter extracts the store-facing filter with the method upper-cased.
func (r PaginationRequest) Filter() Filter {
	return Filter{
		SearchTerm: strings.TrimSpace(r.SearchTerm),
		Method:     strings.ToUpper(strings.TrimSpace(r.Method)),
		StatusCode: r.StatusCode,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
	}
}

// Matches reports whether the entry satisfies every filter criterion. Stores
// without a query engine use it directly; SQL stores mirror it in WHERE clauses.
func (f Filter) Matches(e AuditEntry) bool {
	if f.Method != "" && e.Method != f.Method {
		return false
	}
	if f.StatusCode != nil && e.StatusCode != *f.StatusCode {
		return false
	}
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.SearchTerm != "" {
		term := strings.ToLower(f.SearchTerm)
		return containsFold(e.Path, term) ||
			containsFold(e.QueryString, term) ||
			containsFold(e.RequestBody, term) ||
			containsFold(e.ResponseBody, term)
	}
	return true
}

func containsFold(field, lowerTerm string) bool {
	return field != "" && strings.Contains(strings.ToLower(field), lowerTerm)
}

// PaginationMetadata is derived per query and never stored.
type PaginationMetadata struct {
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	HasPrevious bool  `json:"hasPrevious"`
	HasNext     bool  `json:"hasNext"`
}

// NewPaginationMetadata computes page counts for an already-clamped page and
// page size. TotalCount is the size of the filtered result, not the table.
func NewPaginationMetadata(page, pageSize int, totalCount int64) PaginationMetadata {
	totalPages := 0
	if totalCount > 0 && pageSize > 0 {
		totalPages = int(math.Ceil(float64(totalCount) / float64(pageSize)))
	}
	return PaginationMetadata{
		CurrentPage: page,
		PageSize:    pageSize,
		TotalCount:  totalCount,
		TotalPages:  totalPages,
		HasPrevious: page > 1,
		HasNext:     page < totalPages,
	}
}

// Page is one window of query results plus its metadata.
type Page struct {
	Data     []AuditEntry       `json:"data"`
	Metadata PaginationMetadata `json:"metadata"`
}

// Stats summarizes the persisted audit trail.
type Stats struct {
	TotalEntries int64     `json:"totalEntries"`
	LastUpdated  time.Time `json:"lastUpdated"`
}
