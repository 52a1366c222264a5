package perplexity

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

func TestClient_Invoke_SendsBearerTokenAndPrompt(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL}, "test-key")
	input, _ := json.Marshal(map[string]string{"prompt": "what is attention?"})
	resp, err := c.Invoke(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "what is attention?", gotBody.Messages[0].Content)
	assert.Contains(t, string(resp.Data), "answer")
}

func TestClient_Invoke_RejectsEmptyPrompt(t *testing.T) {
	c := New(config.ProviderConfig{BaseURL: "http://unused"}, "key")
	_, err := c.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}
