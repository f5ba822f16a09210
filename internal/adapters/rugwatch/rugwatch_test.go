package rugwatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Report(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/mint-1/report", r.URL.Path)
		w.Write([]byte(`{"score": 420, "rugged": false}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, TimeoutMs: 1000})
	report, err := client.Report(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.Equal(t, 420, report.Score)
	assert.False(t, report.Flagged)
}

func TestClient_ReportFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"score": 100, "rugged": true}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, TimeoutMs: 1000})
	report, err := client.Report(context.Background(), "mint-1")
	require.NoError(t, err)
	assert.True(t, report.Flagged)
}

func TestClient_ReportErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewClient(Config{BaseURL: srv.URL, TimeoutMs: 1000})
			_, err := client.Report(context.Background(), "mint-1")
			require.Error(t, err, "the gate depends on failures surfacing as errors")
			assert.Equal(t, int64(1), client.Stats().Errors)
		})
	}
}
