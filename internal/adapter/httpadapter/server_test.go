package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/precip-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/precip-etl/internal/domain"
	"github.com/couchcryptid/precip-etl/internal/observability"
	"github.com/couchcryptid/precip-etl/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockSummaries struct {
	summaries map[string]domain.Summary
	err       error
}

func (m *mockSummaries) Summary(state domain.State) (domain.Summary, error) {
	if m.err != nil {
		return domain.Summary{}, m.err
	}
	s, ok := m.summaries[state.Name]
	if !ok {
		return domain.Summary{}, pipeline.ErrNotAnalyzed
	}
	return s, nil
}

func newTestServer(readyErr error, summaries *mockSummaries) *httpadapter.Server {
	if summaries == nil {
		summaries = &mockSummaries{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, summaries, observability.DiscardLogger())
}

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("not ready yet"), nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatesEndpoint(t *testing.T) {
	rec := get(newTestServer(nil, nil), "/states")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["states"], 53)
	assert.Equal(t, "AL", body["states"][0])
}

func TestSummaryEndpoint(t *testing.T) {
	summaries := &mockSummaries{summaries: map[string]domain.Summary{
		"AZ": {Records: 10, StartYear: 1986, EndYear: 1990, TotalInches: 12.5, GeneratedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	rec := get(newTestServer(nil, summaries), "/states/az/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 10, got.Records)
	assert.InDelta(t, 12.5, got.TotalInches, 1e-9)
}

func TestSummaryEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		summaries *mockSummaries
		want      int
	}{
		{"unknown state", "/states/XX/summary", nil, http.StatusBadRequest},
		{"not analyzed", "/states/AZ/summary", nil, http.StatusNotFound},
		{"read failure", "/states/AZ/summary", &mockSummaries{err: errors.New("disk on fire")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(newTestServer(nil, tt.summaries), tt.path)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}
