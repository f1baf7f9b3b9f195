package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultGitHubBaseURL is the default GitHub API base URL.
	DefaultGitHubBaseURL = "https://api.github.com"
	// DefaultUserAgent is the default user agent string.
	DefaultUserAgent = "harness/1.0"
	// DefaultHTTPTimeout is the default HTTP client timeout.
	DefaultHTTPTimeout = 30 * time.Second
	// MaxRetries is the maximum number of attempts, the first included,
	// for transient failures.
	MaxRetries = 3
	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay = 1 * time.Second
)

// GitHubProvider implements Provider against the GitHub Contents and
// Repos APIs using only net/http and encoding/json: GetFile fetches a
// blob's raw bytes, GetDefaultBranch resolves a repository's default
// branch. Other GitHub operations (statuses, pull requests, comments)
// are out of scope here since GitCatalog never needs them.
type GitHubProvider struct {
	client    *http.Client
	baseURL   string
	token     string
	userAgent string
}

// NewGitHubProvider creates a GitHubProvider. token may be empty for
// unauthenticated (rate-limited) access to public repositories.
func NewGitHubProvider(baseURL, token string) *GitHubProvider {
	if baseURL == "" {
		baseURL = DefaultGitHubBaseURL
	}
	return &GitHubProvider{
		client:    &http.Client{Timeout: DefaultHTTPTimeout},
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		userAgent: DefaultUserAgent,
	}
}

// GetFile retrieves a file's raw content from a repository at ref.
func (g *GitHubProvider) GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.baseURL, owner, repo, path)
	if ref != "" {
		url += "?ref=" + ref
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	g.setHeaders(req)
	req.Header.Set("Accept", "application/vnd.github.v3.raw")

	resp, err := g.doWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github api error (status %d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// GetDefaultBranch returns the default branch for a repository.
func (g *GitHubProvider) GetDefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s", g.baseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.doWithRetry(ctx, req)
	if err != nil {
		return "", fmt.Errorf("fetching repository: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("github api error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding repository response: %w", err)
	}
	return result.DefaultBranch, nil
}

func (g *GitHubProvider) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", g.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/vnd.github.v3+json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

// doWithRetry issues req, retrying transient network failures and 5xx
// responses with exponential backoff.
func (g *GitHubProvider) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := g.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return nil, err
			}
			continue
		}
		if resp.StatusCode >= 500 && attempt < MaxRetries-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection reset", "connection refused", "timeout", "temporary failure", "eof", "no such host"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
