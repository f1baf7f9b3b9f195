package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client wraps an HTTP client for the harness control plane's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(server, token string) *Client {
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}

	return &Client{
		baseURL: strings.TrimSuffix(server, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request makes an HTTP request to the API.
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// requestStream issues a streaming GET and hands the response body to fn,
// which is responsible for reading and closing it.
func (c *Client) requestStream(ctx context.Context, path string, fn func(io.ReadCloser) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return fn(resp.Body)
}

// Variant mirrors suite.Variant as returned by GET /variants.
type Variant struct {
	Name      string `json:"Name"`
	SizeBytes int64  `json:"SizeBytes"`
	DocRef    string `json:"DocRef"`
}

// RunSnapshot mirrors coordinator.Snapshot as returned by the run status
// and submission endpoints.
type RunSnapshot struct {
	ID            string `json:"ID"`
	Status        string `json:"Status"`
	TotalBatches  int    `json:"TotalBatches"`
	BatchesDone   int    `json:"BatchesDone"`
	BatchesFailed int    `json:"BatchesFailed"`
	ErrorDetail   string `json:"ErrorDetail"`
	ArtifactID    string `json:"ArtifactID"`
}

// Penalty mirrors store.Penalty.
type Penalty struct {
	Kind   string  `json:"Kind"`
	Amount float64 `json:"Amount"`
}

// TestScore mirrors store.TestScore.
type TestScore struct {
	TestID    string    `json:"TestID"`
	Score     float64   `json:"Score"`
	Max       float64   `json:"Max"`
	Penalties []Penalty `json:"Penalties"`
	Feedback  []string  `json:"Feedback"`
}

// CategoryBreakdown mirrors store.CategoryBreakdown.
type CategoryBreakdown struct {
	Category string  `json:"Category"`
	Score    float64 `json:"Score"`
	Max      float64 `json:"Max"`
	Count    int     `json:"Count"`
}

// LevelBreakdown mirrors store.LevelBreakdown.
type LevelBreakdown struct {
	Level int     `json:"Level"`
	Score float64 `json:"Score"`
	Max   float64 `json:"Max"`
	Count int     `json:"Count"`
}

// EvalSummary mirrors store.EvalSummary.
type EvalSummary struct {
	OverallPercent float64             `json:"OverallPercent"`
	Categories     []CategoryBreakdown `json:"Categories"`
	Levels         []LevelBreakdown    `json:"Levels"`
	TotalPenalties map[string]float64  `json:"TotalPenalties"`
}

// ArtifactMeta mirrors store.ArtifactMeta.
type ArtifactMeta struct {
	Model       string    `json:"Model"`
	Variant     string    `json:"Variant"`
	SuiteName   string    `json:"SuiteName"`
	TotalTests  int       `json:"TotalTests"`
	BatchSizing []int     `json:"BatchSizing"`
	Temperature float64   `json:"Temperature"`
	CreatedAt   time.Time `json:"CreatedAt"`
}

// EvalResult mirrors store.EvalResult.
type EvalResult struct {
	ArtifactID string       `json:"ArtifactID"`
	Meta       ArtifactMeta `json:"Meta"`
	Scores     []TestScore  `json:"Scores"`
	Summary    EvalSummary  `json:"Summary"`
}

// Collection mirrors store.Collection.
type Collection struct {
	Name      string       `json:"Name"`
	Members   []string     `json:"Members"`
	CreatedAt time.Time    `json:"CreatedAt"`
	Meta      ArtifactMeta `json:"Meta"`
}

// Stats mirrors collection.Stats.
type Stats struct {
	Name           string             `json:"Name"`
	FileCount      int                `json:"FileCount"`
	MeanPercent    float64            `json:"MeanPercent"`
	StdDevPercent  float64            `json:"StdDevPercent"`
	CategoryMeans  map[string]float64 `json:"CategoryMeans"`
}

// Comparison mirrors collection.Comparison.
type Comparison struct {
	A              Stats              `json:"A"`
	B              Stats              `json:"B"`
	Categories     []string           `json:"Categories"`
	CategoryDeltas map[string]float64 `json:"CategoryDeltas"`
}

// HealthResult mirrors health.Result.
type HealthResult struct {
	Name    string            `json:"name"`
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthReport mirrors health.Report.
type HealthReport struct {
	Status string         `json:"status"`
	Checks []HealthResult `json:"checks"`
}

// Event mirrors eventbus.Event as it arrives over the ndjson run event
// stream.
type Event struct {
	Kind     string          `json:"Kind"`
	Topic    string          `json:"Topic"`
	RunID    string          `json:"RunID"`
	BatchNum int             `json:"BatchNum"`
	Seq      uint64          `json:"Seq"`
	Payload  json.RawMessage `json:"Payload"`
}

// SubmitRequest is the request body for POST /runs.
type SubmitRequest struct {
	Model       string   `json:"model"`
	Variant     string   `json:"variant"`
	Temperature float64  `json:"temperature"`
	BatchSize   int      `json:"batch_size,omitempty"`
	BatchSizes  []int    `json:"batch_sizes,omitempty"`
	SuiteFilter []string `json:"suite_filter,omitempty"`
	QueueSize   int      `json:"queue_size"`
}

// Healthz fetches the aggregate health report.
func (c *Client) Healthz(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.request(ctx, http.MethodGet, "/healthz", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListVariants lists the variant catalog.
func (c *Client) ListVariants(ctx context.Context) ([]Variant, error) {
	var variants []Variant
	if err := c.request(ctx, http.MethodGet, "/variants", nil, &variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// Submit enqueues a run request, returning the run IDs minted (one per
// run, so more than one when QueueSize is greater than 1).
func (c *Client) Submit(ctx context.Context, req SubmitRequest) ([]string, error) {
	var resp struct {
		RunIDs []string `json:"run_ids"`
	}
	if err := c.request(ctx, http.MethodPost, "/runs", req, &resp); err != nil {
		return nil, err
	}
	return resp.RunIDs, nil
}

// GetRunStatus fetches a run's current snapshot.
func (c *Client) GetRunStatus(ctx context.Context, runID string) (*RunSnapshot, error) {
	var snap RunSnapshot
	if err := c.request(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// CancelRun cancels a single run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.request(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/cancel", nil, nil)
}

// CancelAll cancels every in-flight run.
func (c *Client) CancelAll(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/runs/cancel-all", nil, nil)
}

// RerunBatch resubmits a single failed batch within a run.
func (c *Client) RerunBatch(ctx context.Context, runID string, batchNum int) error {
	path := fmt.Sprintf("/runs/%s/batches/%d/rerun", url.PathEscape(runID), batchNum)
	return c.request(ctx, http.MethodPost, path, nil, nil)
}

// Subscribe streams a run's events as newline-delimited JSON starting at
// cursor, invoking fn for each decoded Event until the stream ends or ctx
// is canceled.
func (c *Client) Subscribe(ctx context.Context, runID string, cursor uint64, fn func(Event) error) error {
	path := "/runs/" + url.PathEscape(runID) + "/events"
	if cursor > 0 {
		path += "?cursor=" + strconv.FormatUint(cursor, 10)
	}
	return c.requestStream(ctx, path, func(body io.ReadCloser) error {
		defer body.Close()
		dec := json.NewDecoder(body)
		for {
			var ev Event
			if err := dec.Decode(&ev); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	})
}

// Evaluate scores an artifact, returning the cached result if one already
// exists.
func (c *Client) Evaluate(ctx context.Context, artifactID string) (*EvalResult, error) {
	var result EvalResult
	path := "/artifacts/" + url.PathEscape(artifactID) + "/evaluate"
	if err := c.request(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PromoteToCollection creates a named collection from a set of artifact
// IDs.
func (c *Client) PromoteToCollection(ctx context.Context, name string, artifactIDs []string) (*Collection, error) {
	var col Collection
	req := struct {
		Name        string   `json:"name"`
		ArtifactIDs []string `json:"artifact_ids"`
	}{Name: name, ArtifactIDs: artifactIDs}
	if err := c.request(ctx, http.MethodPost, "/collections", req, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// ListCollections lists every collection.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var cols []Collection
	if err := c.request(ctx, http.MethodGet, "/collections", nil, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// AddToCollection adds an artifact to an existing collection.
func (c *Client) AddToCollection(ctx context.Context, name, artifactID string) error {
	req := struct {
		ArtifactID string `json:"artifact_id"`
	}{ArtifactID: artifactID}
	return c.request(ctx, http.MethodPost, "/collections/"+url.PathEscape(name)+"/members", req, nil)
}

// RemoveFromCollection removes an artifact from a collection.
func (c *Client) RemoveFromCollection(ctx context.Context, name, artifactID string) error {
	path := "/collections/" + url.PathEscape(name) + "/members/" + url.PathEscape(artifactID)
	return c.request(ctx, http.MethodDelete, path, nil, nil)
}

// DeleteCollection deletes a collection.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.request(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil)
}

// CollectionStats fetches the aggregate statistics for a collection.
func (c *Client) CollectionStats(ctx context.Context, name string) (*Stats, error) {
	var stats Stats
	if err := c.request(ctx, http.MethodGet, "/collections/"+url.PathEscape(name)+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Compare diffs two collections' statistics.
func (c *Client) Compare(ctx context.Context, a, b string) (*Comparison, error) {
	var cmp Comparison
	path := "/collections/compare?a=" + url.QueryEscape(a) + "&b=" + url.QueryEscape(b)
	if err := c.request(ctx, http.MethodGet, path, nil, &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}
