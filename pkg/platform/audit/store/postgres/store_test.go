package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "auditrelay/pkg/platform/audit"
)

func TestBuildWhere(t *testing.T) {
	t.Run("empty filter has no clause", func(t *testing.T) {
		where, args := buildWhere(audit.Filter{})
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("conditions are ANDed in a stable order", func(t *testing.T) {
		status := 404
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		where, args := buildWhere(audit.Filter{
			Method:     "POST",
			StatusCode: &status,
			StartDate:  &start,
			SearchTerm: "abc",
		})
		assert.Equal(t,
			" WHERE method = $1 AND status_code = $2 AND timestamp >= $3 AND "+
				"(path ILIKE $4 OR query_string ILIKE $4 OR request_body ILIKE $4 OR response_body ILIKE $4)",
			where)
		assert.Equal(t, []any{"POST", 404, start, "%abc%"}, args)
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\dir`, escapeLike(`c:\dir`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestNewQuotesTable(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, `"audit_entries"`, s.table)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_audit_entries_method" ON "audit_entries" (method)`,
		s.indexStmt("method", "method"))
}

func TestNullStringDropsNUL(t *testing.T) {
	assert.Equal(t, "ab", stripNUL("a\x00b\x00"))
	assert.False(t, nullString("\x00").Valid)

	ns := nullString("{\"k\":\"v\x00\"}")
	assert.True(t, ns.Valid)
	assert.Equal(t, `{"k":"v"}`, ns.String)
}

func TestRejected(t *testing.T) {
	invalidEncoding := &pq.Error{Code: "22021"}
	notNull := &pq.Error{Code: "23502"}
	connFailure := &pq.Error{Code: "08006"}

	assert.True(t, rejected(fmt.Errorf("exec: %w", invalidEncoding)))
	assert.True(t, rejected(notNull))
	assert.False(t, rejected(connFailure))
	assert.False(t, rejected(errors.New("driver: bad connection")))
}

func TestFindRejectsNegativeOffset(t *testing.T) {
	page, err := New(nil, "").Find(context.Background(), audit.Filter{}, -1, 20)
	require.Error(t, err)
	assert.Nil(t, page)
}
