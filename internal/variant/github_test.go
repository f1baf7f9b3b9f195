package variant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitHubProvider_GetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/docs/contents/variants/baseline.md", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# Baseline\n"))
	}))
	defer srv.Close()

	p := NewGitHubProvider(srv.URL, "test-token")
	content, err := p.GetFile(context.Background(), "acme", "docs", "variants/baseline.md", "main")
	require.NoError(t, err)
	assert.Equal(t, "# Baseline\n", string(content))
}

func TestGitHubProvider_GetFile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewGitHubProvider(srv.URL, "")
	_, err := p.GetFile(context.Background(), "acme", "docs", "missing.md", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGitHubProvider_GetDefaultBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/docs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"default_branch": "main"}`))
	}))
	defer srv.Close()

	p := NewGitHubProvider(srv.URL, "")
	branch, err := p.GetDefaultBranch(context.Background(), "acme", "docs")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestGitHubProvider_GetDefaultBranch_ServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGitHubProvider(srv.URL, "")
	_, err := p.GetDefaultBranch(context.Background(), "acme", "docs")
	require.Error(t, err)
	assert.Equal(t, MaxRetries, attempts)
}

func TestNewGitHubProvider_DefaultsBaseURL(t *testing.T) {
	p := NewGitHubProvider("", "tok")
	assert.Equal(t, DefaultGitHubBaseURL, p.baseURL)
}
