package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "auditrelay/pkg/platform/audit"
)

func fullEntry() audit.AuditEntry {
	return audit.AuditEntry{
		ID:             "0190f6f2-5c1e-7a8b-9c3d-4e5f6a7b8c9d",
		Timestamp:      time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.UTC),
		Method:         "POST",
		Path:           "/api/sample",
		QueryString:    "?debug=true&trace=1",
		RequestBody:    `{"name":"widget","description":"ünïcödé \"quoted\""}`,
		ResponseBody:   `{"id":1,"name":"widget"}`,
		StatusCode:     201,
		ResponseTimeMs: 42,
		UserAgent:      "curl/8.5.0",
		RemoteIP:       "10.0.0.7",
	}
}

func TestRoundTrip(t *testing.T) {
	t.Run("fully populated entry", func(t *testing.T) {
		original := fullEntry()
		key, value, err := Encode(original)
		require.NoError(t, err)
		assert.Equal(t, original.ID, string(key))

		decoded, err := Decode(key, value)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("optional fields absent", func(t *testing.T) {
		original := audit.AuditEntry{
			ID:         "id-2",
			Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Method:     "GET",
			Path:       "/health",
			StatusCode: 200,
		}
		key, value, err := Encode(original)
		require.NoError(t, err)
		assert.NotContains(t, string(value), "requestBody")

		decoded, err := Decode(key, value)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("non-UTC timestamp normalizes to the same instant", func(t *testing.T) {
		original := fullEntry()
		original.Timestamp = original.Timestamp.In(time.FixedZone("CET", 3600))
		key, value, err := Encode(original)
		require.NoError(t, err)

		decoded, err := Decode(key, value)
		require.NoError(t, err)
		assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
		assert.Equal(t, time.UTC, decoded.Timestamp.Location())
	})
}

func TestInvalidUTF8BecomesReplacementChar(t *testing.T) {
	original := fullEntry()
	original.RequestBody = "ab\xffc"

	key, value, err := Encode(original)
	require.NoError(t, err)
	decoded, err := Decode(key, value)
	require.NoError(t, err)
	assert.Equal(t, "ab\uFFFDc", decoded.RequestBody)
}

func TestEncodeRequiresID(t *testing.T) {
	_, _, err := Encode(audit.AuditEntry{Method: "GET"})
	require.Error(t, err)
}

func TestDecodeFailures(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"not json", "id", "{{{"},
		{"missing id and key", "", `{"method":"GET","timestamp":"2025-01-01T00:00:00Z"}`},
		{"key mismatch", "other", `{"id":"id","method":"GET","timestamp":"2025-01-01T00:00:00Z"}`},
		{"missing method", "id", `{"id":"id","timestamp":"2025-01-01T00:00:00Z"}`},
		{"bad timestamp", "id", `{"id":"id","method":"GET","timestamp":"yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.key), []byte(tc.value))
			require.Error(t, err)
			assert.True(t, errors.Is(err, audit.ErrDecode), "expected ErrDecode, got %v", err)
		})
	}
}

func TestDecodeFallsBackToKey(t *testing.T) {
	decoded, err := Decode([]byte("from-key"), []byte(`{"method":"DELETE","path":"/x","timestamp":"2025-01-01T00:00:00Z","statusCode":204}`))
	require.NoError(t, err)
	assert.Equal(t, "from-key", decoded.ID)
	assert.Equal(t, 204, decoded.StatusCode)
}
