package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchharness/harness/internal/clockid"
	"github.com/benchharness/harness/internal/collection"
	"github.com/benchharness/harness/internal/eventbus"
	"github.com/benchharness/harness/internal/evaluator"
	"github.com/benchharness/harness/internal/modelclient"
	"github.com/benchharness/harness/internal/queue"
	"github.com/benchharness/harness/internal/scorer"
	"github.com/benchharness/harness/internal/store"
	"github.com/benchharness/harness/internal/suite"
	"github.com/benchharness/harness/internal/variant"
	"github.com/benchharness/harness/pkg/health"
)

type fakeClient struct{ response string }

func (f *fakeClient) Invoke(ctx context.Context, prompt string, temperature float64, maxTokens int, timeout time.Duration) (string, modelclient.Usage, error) {
	return f.response, modelclient.Usage{}, nil
}

func testSuite() *suite.TestSuite {
	return &suite.TestSuite{
		Name: "demo",
		Tests: []suite.TestCase{
			{ID: "t1", Category: "basics", Level: 1, Points: 10, RequiredPatterns: []string{"A"}},
		},
	}
}

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	bus := eventbus.New(eventbus.Config{}, zerolog.Nop())
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	client := &fakeClient{response: `{"t1":"A"}`}
	sc := scorer.New(scorer.DefaultConfig(), nil)
	evalSched := evaluator.New(st, sc, bus, testSuite(), zerolog.Nop(), evaluator.Config{})
	q := queue.New(client, st, bus, clockid.System{}, zerolog.Nop(), queue.Config{EvaluationTracker: evalSched})
	agg := collection.New(st)
	variants := variant.NewStaticCatalog([]suite.Variant{{Name: "v1", SizeBytes: 10}})
	healthReg := health.NewRegistry()

	return New(q, evalSched, agg, bus, testSuite(), variants, healthReg, zerolog.Nop()), st
}

func TestServer_HealthOK(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_SubmitAndGetStatus(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{
		"model": "gpt", "variant": "v1", "batch_size": 10, "queue_size": 1,
	})
	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitResp struct {
		RunIDs []string `json:"run_ids"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitResp))
	require.Len(t, submitResp.RunIDs, 1)

	require.Eventually(t, func() bool {
		r, err := http.Get(srv.URL + "/runs/" + submitResp.RunIDs[0])
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var snap map[string]any
		json.NewDecoder(r.Body).Decode(&snap)
		return snap["Status"] == "completed"
	}, time.Second, 5*time.Millisecond)
}

func TestServer_SubmitRejectsUnknownVariant(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"model": "gpt", "variant": "nope", "queue_size": 1})
	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PromoteAndStatsAndCompare(t *testing.T) {
	s, st := newTestServer(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx := context.Background()
	require.NoError(t, st.WriteArtifact(ctx, store.Artifact{ID: "a1", RunID: "r1"}))
	require.NoError(t, st.WriteEvalResult(ctx, store.EvalResult{
		ArtifactID: "a1",
		Summary:    store.EvalSummary{OverallPercent: 100},
	}))

	body, _ := json.Marshal(map[string]any{"name": "nightly", "artifact_ids": []string{"a1"}})
	resp, err := http.Post(srv.URL+"/collections", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	statsResp, err := http.Get(srv.URL + "/collections/nightly/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	assert.Equal(t, http.StatusOK, statsResp.StatusCode)
}
