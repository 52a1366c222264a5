package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperflow/pipeline/pkg/config"
	"github.com/paperflow/pipeline/pkg/reliability"
)

func TestClient_Get_SuccessReturnsBody(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL, UserAgent: "paperflow-test/1.0"})
	body, err := c.Get(context.Background(), "/works", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "paperflow-test/1.0", gotUA)
}

func TestClient_Get_NonRetryable4xxClassifiesAsInvalidInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	_, err := c.Get(context.Background(), "/works", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reliability.ErrInvalidInput))
}

func TestClient_Get_5xxClassifiesAsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	_, err := c.Get(context.Background(), "/works", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reliability.ErrTransient))
}

func TestClient_PostJSON_SetsContentType(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(config.ProviderConfig{BaseURL: server.URL})
	_, err := c.PostJSON(context.Background(), "/chat", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
}
