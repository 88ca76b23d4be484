package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/server"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func increment(field string) stategraph.HandlerFunc {
	return func(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
		n, _ := st[field].AsNumber()
		return state.Map{field: state.Number(n + 1)}, nil
	}
}

func newCounterGraph(t *testing.T, cp checkpoint.Checkpointer) *stategraph.CompiledGraph {
	t.Helper()
	g := stategraph.NewGraph().
		AddNode("first", increment("count")).
		AddNode("second", increment("count")).
		AddEdge("first", "second").
		AddEdge("second", stategraph.END).
		SetEntryPoint("first")
	if cp != nil {
		g.SetCheckpointer(cp)
	}
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v))
}

func TestInvoke(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	rec := post(t, srv, "/invoke", `{"state":{"count":1}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp server.InvokeResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.RunID)
	assert.False(t, resp.Truncated)
	n, ok := resp.State["count"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestInvoke_EmptyBodyState(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	rec := post(t, srv, "/invoke", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp server.InvokeResponse
	decode(t, rec, &resp)
	n, _ := resp.State["count"].AsNumber()
	assert.Equal(t, 2.0, n)
}

func TestInvoke_BadRequests(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"state":`},
		{"resume without node", `{"resume_from":{"state":{}}}`},
		{"unknown resume node", `{"resume_from":{"node":"missing","state":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, srv, "/invoke", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestInvoke_HandlerFailure(t *testing.T) {
	g := stategraph.NewGraph().
		AddNode("boom", stategraph.HandlerFunc(func(stategraph.Context, state.Map, stategraph.RunConfig) (state.Map, error) {
			return nil, assert.AnError
		})).
		AddEdge("boom", stategraph.END).
		SetEntryPoint("boom")
	compiled, err := g.Compile()
	require.NoError(t, err)

	rec := post(t, server.New(compiled), "/invoke", `{"state":{}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestInvoke_ResumeFrom(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	rec := post(t, srv, "/invoke", `{"resume_from":{"node":"second","state":{"count":10}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp server.InvokeResponse
	decode(t, rec, &resp)
	n, _ := resp.State["count"].AsNumber()
	assert.Equal(t, 11.0, n)
}

func TestStream(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	rec := post(t, srv, "/stream", `{"state":{"count":0}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp server.StreamResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Snapshots, 2)
	assert.Equal(t, "first", resp.Snapshots[0].Node)
	assert.Equal(t, "second", resp.Snapshots[1].Node)
	n, _ := resp.Snapshots[1].State["count"].AsNumber()
	assert.Equal(t, 2.0, n)
}

func TestHistory(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	srv := server.New(newCounterGraph(t, store))

	rec := post(t, srv, "/invoke", `{"state":{"count":0},"thread_id":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/threads/t-1/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp server.HistoryResponse
	decode(t, rec, &resp)
	assert.Equal(t, "t-1", resp.ThreadID)
	require.Len(t, resp.Checkpoints, 2)
	assert.Equal(t, "first", resp.Checkpoints[0].Node)
	assert.Equal(t, "second", resp.Checkpoints[1].Node)
}

func TestHistory_NoCheckpointer(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	rec := get(t, srv, "/threads/t-1/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraph(t *testing.T) {
	srv := server.New(newCounterGraph(t, nil))

	t.Run("mermaid", func(t *testing.T) {
		rec := get(t, srv, "/graph")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "graph TD\n"))
		assert.Contains(t, rec.Body.String(), "first --> second")
	})

	t.Run("json", func(t *testing.T) {
		rec := get(t, srv, "/graph?format=json")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp server.TopologyResponse
		decode(t, rec, &resp)
		assert.Equal(t, "first", resp.EntryPoint)
		assert.ElementsMatch(t, []string{"first", "second"}, resp.Nodes)
		assert.Contains(t, resp.Edges, stategraph.Edge{From: "first", To: "second"})
	})
}

func TestHealthz(t *testing.T) {
	rec := get(t, server.New(newCounterGraph(t, nil)), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec := get(t, server.New(newCounterGraph(t, nil)), "/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("prometheus", func(t *testing.T) {
		rec := observability.NewPrometheusRecorder()
		srv := server.New(newCounterGraph(t, nil), server.WithPrometheus(rec))

		require.Equal(t, http.StatusOK, post(t, srv, "/invoke", `{"state":{}}`).Code)

		resp := get(t, srv, "/metrics")
		require.Equal(t, http.StatusOK, resp.Code)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "stategraph_")
	})
}
