package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/harnesserr"
)

func TestHTTPClient_Invoke_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "func A() {}"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	text, _, err := c.Invoke(context.Background(), "write A", 0.5, 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "func A() {}", text)
}

func TestHTTPClient_Invoke_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	_, _, err := c.Invoke(context.Background(), "p", 0, 0, time.Second)
	require.Error(t, err)
	kind, ok := harnesserr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, harnesserr.RateLimited, kind)
}

func TestHTTPClient_Invoke_BadRequestNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	_, _, err := c.Invoke(context.Background(), "p", 0, 0, time.Second)
	require.Error(t, err)
	assert.False(t, harnesserr.Retryable(err))
}

func TestHTTPClient_Invoke_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
	_, _, err := c.Invoke(context.Background(), "p", 0, 0, 5*time.Millisecond)
	require.Error(t, err)
	kind, _ := harnesserr.KindOf(err)
	assert.Equal(t, harnesserr.Timeout, kind)
}
