package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/audit/store/memory"
	"auditrelay/pkg/platform/sentinel"
)

var base = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func seed(t *testing.T, n int, mk func(i int) audit.AuditEntry) *memory.InMemoryStore {
	t.Helper()
	store := memory.NewInMemoryStore()
	for i := range n {
		require.NoError(t, store.Insert(context.Background(), mk(i)))
	}
	return store
}

func plain(i int) audit.AuditEntry {
	return audit.AuditEntry{
		ID:         fmt.Sprintf("id-%04d", i),
		Timestamp:  base.Add(time.Duration(i) * time.Second),
		Method:     "GET",
		Path:       fmt.Sprintf("/items/%d", i),
		StatusCode: 200,
	}
}

func TestPaginationArithmetic(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		svc := New(memory.NewInMemoryStore())
		page, err := svc.List(ctx, audit.PaginationRequest{Page: 1})
		require.NoError(t, err)
		assert.Empty(t, page.Data)
		assert.NotNil(t, page.Data)
		assert.Equal(t, audit.PaginationMetadata{
			CurrentPage: 1, PageSize: 20, TotalCount: 0, TotalPages: 0,
			HasPrevious: false, HasNext: false,
		}, page.Metadata)
	})

	t.Run("101 entries in pages of 20", func(t *testing.T) {
		svc := New(seed(t, 101, plain))

		first, err := svc.List(ctx, audit.PaginationRequest{Page: 1, PageSize: intPtr(20)})
		require.NoError(t, err)
		assert.Len(t, first.Data, 20)
		assert.Equal(t, 6, first.Metadata.TotalPages)
		assert.Equal(t, int64(101), first.Metadata.TotalCount)
		assert.False(t, first.Metadata.HasPrevious)
		assert.True(t, first.Metadata.HasNext)

		last, err := svc.List(ctx, audit.PaginationRequest{Page: 6, PageSize: intPtr(20)})
		require.NoError(t, err)
		require.Len(t, last.Data, 1)
		assert.Equal(t, "id-0000", last.Data[0].ID)
		assert.True(t, last.Metadata.HasPrevious)
		assert.False(t, last.Metadata.HasNext)
	})

	t.Run("page beyond the end", func(t *testing.T) {
		svc := New(seed(t, 5, plain))
		page, err := svc.List(ctx, audit.PaginationRequest{Page: 4})
		require.NoError(t, err)
		assert.Empty(t, page.Data)
		assert.True(t, page.Metadata.HasPrevious)
		assert.False(t, page.Metadata.HasNext)
	})
}

func TestHugePageNumberReturnsEmptyPage(t *testing.T) {
	svc := New(seed(t, 5, plain))

	for _, page := range []int{math.MaxInt, math.MaxInt / 20, math.MaxInt/20 + 1} {
		t.Run(fmt.Sprintf("page %d", page), func(t *testing.T) {
			var (
				got audit.Page
				err error
			)
			require.NotPanics(t, func() {
				got, err = svc.List(context.Background(), audit.PaginationRequest{Page: page})
			})
			require.NoError(t, err)
			assert.Empty(t, got.Data)
			assert.NotNil(t, got.Data)
			assert.Equal(t, page, got.Metadata.CurrentPage)
			assert.Equal(t, int64(5), got.Metadata.TotalCount)
			assert.True(t, got.Metadata.HasPrevious)
			assert.False(t, got.Metadata.HasNext)
		})
	}
}

func TestNormalizeClamps(t *testing.T) {
	svc := New(memory.NewInMemoryStore())

	tests := []struct {
		name         string
		req          audit.PaginationRequest
		wantPage     int
		wantPageSize int
	}{
		{name: "zero page", req: audit.PaginationRequest{Page: 0}, wantPage: 1, wantPageSize: 20},
		{name: "negative page", req: audit.PaginationRequest{Page: -3}, wantPage: 1, wantPageSize: 20},
		{name: "size over max", req: audit.PaginationRequest{Page: 2, PageSize: intPtr(500)}, wantPage: 2, wantPageSize: 100},
		{name: "size zero", req: audit.PaginationRequest{Page: 1, PageSize: intPtr(0)}, wantPage: 1, wantPageSize: 1},
		{name: "size negative", req: audit.PaginationRequest{Page: 1, PageSize: intPtr(-5)}, wantPage: 1, wantPageSize: 1},
		{name: "size in range", req: audit.PaginationRequest{Page: 1, PageSize: intPtr(37)}, wantPage: 1, wantPageSize: 37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := svc.Normalize(tt.req)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantPageSize, size)
		})
	}
}

func TestConfiguredPageSizes(t *testing.T) {
	svc := New(memory.NewInMemoryStore(), WithPageSizes(10, 50))
	_, size := svc.Normalize(audit.PaginationRequest{})
	assert.Equal(t, 10, size)
	_, size = svc.Normalize(audit.PaginationRequest{PageSize: intPtr(51)})
	assert.Equal(t, 50, size)
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	store := seed(t, 10, func(i int) audit.AuditEntry {
		e := plain(i)
		switch i {
		case 2:
			e.Method = "POST"
			e.RequestBody = `{"name":"Widget"}`
		case 5:
			e.Method = "POST"
			e.StatusCode = 500
		case 7:
			e.QueryString = "?q=WIDGET"
		}
		return e
	})
	svc := New(store)

	t.Run("method is case-normalized", func(t *testing.T) {
		page, err := svc.List(ctx, audit.PaginationRequest{Method: "post"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Metadata.TotalCount)
		for _, e := range page.Data {
			assert.Equal(t, "POST", e.Method)
		}
	})

	t.Run("search ORs across text fields", func(t *testing.T) {
		page, err := svc.List(ctx, audit.PaginationRequest{SearchTerm: "widget"})
		require.NoError(t, err)
		require.Len(t, page.Data, 2)
		assert.Equal(t, "id-0007", page.Data[0].ID)
		assert.Equal(t, "id-0002", page.Data[1].ID)
	})

	t.Run("filters AND together", func(t *testing.T) {
		page, err := svc.List(ctx, audit.PaginationRequest{Method: "POST", StatusCode: intPtr(500)})
		require.NoError(t, err)
		require.Len(t, page.Data, 1)
		assert.Equal(t, "id-0005", page.Data[0].ID)
	})

	t.Run("date bounds are inclusive", func(t *testing.T) {
		start, end := base.Add(3*time.Second), base.Add(6*time.Second)
		page, err := svc.List(ctx, audit.PaginationRequest{StartDate: &start, EndDate: &end})
		require.NoError(t, err)
		assert.Equal(t, int64(4), page.Metadata.TotalCount)
	})
}

func TestSortNewestFirst(t *testing.T) {
	// Insert out of order; ids deliberately do not follow timestamps.
	store := seed(t, 4, func(i int) audit.AuditEntry {
		offsets := []int{30, 10, 40, 20}
		e := plain(i)
		e.Timestamp = base.Add(time.Duration(offsets[i]) * time.Second)
		return e
	})
	page, err := New(store).List(context.Background(), audit.PaginationRequest{Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Data, 4)
	for i := 1; i < len(page.Data); i++ {
		assert.False(t, page.Data[i].Timestamp.After(page.Data[i-1].Timestamp))
	}
	assert.Equal(t, "id-0002", page.Data[0].ID)
}

func TestGet(t *testing.T) {
	svc := New(seed(t, 1, plain))

	e, err := svc.Get(context.Background(), "id-0000")
	require.NoError(t, err)
	assert.Equal(t, "/items/0", e.Path)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.ErrorIs(t, err, audit.ErrQuery)
}

func TestStats(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := New(seed(t, 3, plain), WithClock(func() time.Time { return fixed }))

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, fixed, stats.LastUpdated)
}

func TestStoreFailuresAreQueryErrors(t *testing.T) {
	store := memory.NewInMemoryStore()
	boom := errors.New("connection refused")
	store.FailWith(boom)
	svc := New(store)
	ctx := context.Background()

	_, err := svc.List(ctx, audit.PaginationRequest{})
	assert.ErrorIs(t, err, audit.ErrQuery)
	assert.ErrorIs(t, err, boom)

	_, err = svc.Stats(ctx)
	assert.ErrorIs(t, err, audit.ErrQuery)

	_, err = svc.Get(ctx, "x")
	assert.ErrorIs(t, err, audit.ErrQuery)
	assert.NotErrorIs(t, err, sentinel.ErrNotFound)
}
