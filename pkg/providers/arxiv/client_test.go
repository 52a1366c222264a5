package arxiv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/config"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762</id>
    <title>Attention Is All You Need</title>
    <summary>We propose a new network architecture.</summary>
    <published>2017-06-12T00:00:00Z</published>
    <author><name>Ashish Vaswani</name></author>
  </entry>
</feed>`

func TestClient_Invoke_ParsesAtomFeedIntoJSONEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	input, _ := json.Marshal(map[string]string{"query": "transformers"})
	resp, err := c.Invoke(context.Background(), input)
	require.NoError(t, err)

	var entries []entry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Attention Is All You Need", entries[0].Title)
	assert.Equal(t, "Ashish Vaswani", entries[0].Authors[0].Name)
}

func TestClient_Invoke_RejectsEmptyQuery(t *testing.T) {
	c := New(config.ProviderConfig{BaseURL: "http://unused"})
	_, err := c.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}
