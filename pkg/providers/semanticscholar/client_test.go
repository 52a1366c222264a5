package semanticscholar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/config"
)

func TestClient_Invoke_PaperIDLookup(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"title":"Attention Is All You Need"}`))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	input, _ := json.Marshal(map[string]string{"paper_id": "DOI:10.48550/arXiv.1706.03762"})
	resp, err := c.Invoke(context.Background(), input)
	require.NoError(t, err)
	assert.Contains(t, gotPath, "/paper/")
	assert.Contains(t, string(resp.Data), "Attention")
}

func TestClient_Invoke_EnforcesMinimumInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	input, _ := json.Marshal(map[string]string{"query": "transformers"})

	start := time.Now()
	_, err := c.Invoke(context.Background(), input)
	require.NoError(t, err)
	_, err = c.Invoke(context.Background(), input)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, MinInterval)
}
