package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"auditrelay/internal/sample"
	"auditrelay/internal/sample/store"
	"auditrelay/pkg/testutil"
)

// Exercised against the real in-memory store; it has no dependencies worth
// mocking out.
type SampleHandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestSampleHandlerSuite(t *testing.T) {
	suite.Run(t, new(SampleHandlerSuite))
}

func (s *SampleHandlerSuite) SetupTest() {
	s.router = chi.NewRouter()
	New(store.NewInMemory(), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *SampleHandlerSuite) do(method, path string, body any) *http.Response {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), method, path, body))
	return rr.Result()
}

func (s *SampleHandlerSuite) create(name string) sample.Item {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/sample",
		sample.ItemRequest{Name: name, Description: "desc"}))
	s.Require().Equal(http.StatusCreated, rr.Code)
	return *testutil.UnmarshalResponse[sample.Item](s.T(), rr)
}

func (s *SampleHandlerSuite) TestCreateAndGet() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/sample",
		sample.ItemRequest{Name: "  widget  "}))
	s.Require().Equal(http.StatusCreated, rr.Code)
	s.Equal("/api/sample/1", rr.Header().Get("Location"))

	created := testutil.UnmarshalResponse[sample.Item](s.T(), rr)
	s.Equal("widget", created.Name)
	s.False(created.CreatedAt.IsZero())

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/sample/1", nil))
	s.Equal(http.StatusOK, rr.Code)
	s.Equal("widget", testutil.UnmarshalResponse[sample.Item](s.T(), rr).Name)
}

func (s *SampleHandlerSuite) TestList() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/sample", nil))
	s.Equal(http.StatusOK, rr.Code)
	s.JSONEq(`[]`, rr.Body.String())

	s.create("a")
	s.create("b")
	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/api/sample", nil))
	items := testutil.UnmarshalResponse[[]sample.Item](s.T(), rr)
	s.Require().Len(*items, 2)
	s.Equal("a", (*items)[0].Name)
}

func (s *SampleHandlerSuite) TestUpdate() {
	item := s.create("old")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/sample/1",
		sample.ItemRequest{Name: "new", Description: "changed"}))
	s.Require().Equal(http.StatusOK, rr.Code)
	updated := testutil.UnmarshalResponse[sample.Item](s.T(), rr)
	s.Equal(item.ID, updated.ID)
	s.Equal("new", updated.Name)
	s.Equal("changed", updated.Description)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/sample/42",
		sample.ItemRequest{Name: "x"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *SampleHandlerSuite) TestDelete() {
	s.create("doomed")

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/sample/1", nil).StatusCode)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/sample/1", nil).StatusCode)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/sample/1", nil).StatusCode)
}

func (s *SampleHandlerSuite) TestValidation() {
	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "missing body", method: http.MethodPost, path: "/api/sample"},
		{name: "blank name", method: http.MethodPost, path: "/api/sample", body: sample.ItemRequest{Name: "   "}},
		{name: "unknown field", method: http.MethodPost, path: "/api/sample", body: map[string]string{"name": "x", "color": "red"}},
		{name: "non-numeric id", method: http.MethodGet, path: "/api/sample/abc"},
		{name: "zero id", method: http.MethodDelete, path: "/api/sample/0"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), tt.method, tt.path, tt.body))
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
		})
	}
}
