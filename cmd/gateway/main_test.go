package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"embedding-gateway/internal/app"
	"embedding-gateway/internal/config"
	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/gateway"
	"embedding-gateway/internal/metrics"
	"embedding-gateway/internal/tokenize"
	"embedding-gateway/internal/wordcloud"
)

func newTestDeps(t *testing.T, model embeddings.Model, metricsEnabled bool) app.Deps {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewNoopMetrics()
	if metricsEnabled {
		m = metrics.NewMetrics(metrics.InstanceInfo{ModelName: model.Name(), VectorSize: model.Dim()})
	}
	hub := wordcloud.NewHub(log)
	sockets := wordcloud.NewSockets(hub, log)
	t.Cleanup(sockets.Close)
	return app.Deps{
		Config:    config.Config{RequestTimeout: 5, MetricsEnabled: metricsEnabled, WordCloudEnabled: true},
		Log:       log,
		Model:     model,
		Metrics:   m,
		Gateway:   gateway.New(model, gateway.Options{Metrics: m, Log: log}),
		WordCloud: hub,
		Sockets:   sockets,
	}
}

func newTableModel(t *testing.T) embeddings.Model {
	t.Helper()
	table, err := embeddings.NewTable(map[string]embeddings.Vector{
		"hello": {0.3, 0.3, 0.3},
		"king":  {0.81, 0.52, 0.17},
		"queen": {0.77, 0.61, 0.23},
		"cat":   {0.1, 1, 0},
		"dog":   {0.2, 0.9, 0.1},
		"car":   {1, 0, 0.9},
	})
	require.NoError(t, err)
	return embeddings.NewPhraseModel("test-model", table, tokenize.Options{})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newRouter(newTestDeps(t, newTableModel(t), true)))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, gateway.HealthResponse{Status: "healthy", Model: "test-model", VectorSize: 3}, decode[gateway.HealthResponse](t, resp))
}

func TestEmbeddingHandler(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name          string
		body          string
		wantStatus    int
		checkResponse func(*testing.T, *http.Response)
	}{
		{
			name:       "known word",
			body:       `{"text":"Hello"}`,
			wantStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *http.Response) {
				got := decode[gateway.EmbeddingResponse](t, resp)
				assert.Equal(t, "hello", got.Text)
				assert.True(t, got.HasVector)
				assert.Len(t, got.Embedding, 3)
			},
		},
		{
			name:       "unknown word gets zero vector",
			body:       `{"text":"qwertyuiop"}`,
			wantStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp *http.Response) {
				got := decode[gateway.EmbeddingResponse](t, resp)
				assert.False(t, got.HasVector)
				assert.Equal(t, embeddings.Vector{0, 0, 0}, got.Embedding)
			},
		},
		{
			name:       "empty text",
			body:       `{"text":""}`,
			wantStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp *http.Response) {
				assert.Equal(t, map[string]string{"error": "No text provided"}, decode[map[string]string](t, resp))
			},
		},
		{
			name:       "whitespace text",
			body:       `{"text":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing field",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid json",
			body:       `{"text":`,
			wantStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp *http.Response) {
				assert.Equal(t, map[string]string{"error": "Invalid JSON payload"}, decode[map[string]string](t, resp))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, "/embedding", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.checkResponse != nil {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestSimilarityHandlerIsSymmetric(t *testing.T) {
	srv := newTestServer(t)

	forward := decode[gateway.SimilarityResponse](t, post(t, srv, "/similarity", `{"text1":"king","text2":"queen"}`))
	backward := decode[gateway.SimilarityResponse](t, post(t, srv, "/similarity", `{"text1":"queen","text2":"king"}`))

	assert.Equal(t, "king", forward.Text1)
	assert.Equal(t, "queen", forward.Text2)
	assert.Greater(t, forward.Similarity, 0.9)
	assert.Less(t, forward.Similarity, 1.0)
	assert.Equal(t, forward.Similarity, backward.Similarity)
}

func TestSimilarityHandlerErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/similarity", `{"text1":"king"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "Both text1 and text2 are required"}, decode[map[string]string](t, resp))

	resp = post(t, srv, "/similarity", `{"text1":"king","text2":"qwertyuiop"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, decode[gateway.SimilarityResponse](t, resp).Similarity)
}

func TestBatchSimilarityHandler(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv, "/batch_similarity", `{"target":"cat","words":["dog","car","cat"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[gateway.BatchSimilarityResponse](t, resp)
	assert.Equal(t, "cat", got.Target)
	require.Len(t, got.Similarities, 2)
	assert.Equal(t, "dog", got.Similarities[0].Word)
	assert.Equal(t, "car", got.Similarities[1].Word)
	assert.GreaterOrEqual(t, got.Similarities[0].Similarity, got.Similarities[1].Similarity)
}

func TestBatchSimilarityHandlerErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "missing words", body: `{"target":"cat"}`, wantError: "Target and words array are required"},
		{name: "empty words", body: `{"target":"cat","words":[]}`, wantError: "Target and words array are required"},
		{name: "empty target", body: `{"target":" ","words":["dog"]}`, wantError: "Target and words array are required"},
		{name: "target without vector", body: `{"target":"qwertyuiop","words":["dog"]}`, wantError: `No vector available for "qwertyuiop"`},
		{name: "invalid json", body: `[`, wantError: "Invalid JSON payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, "/batch_similarity", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, map[string]string{"error": tt.wantError}, decode[map[string]string](t, resp))
		})
	}
}

func TestProviderFailureStatus(t *testing.T) {
	model := &embeddings.MockModel{}
	model.On("Name").Return("remote")
	model.On("Dim").Return(4)
	model.On("Lookup", mock.Anything, "cat").Return(nil, false, embeddings.ErrUnavailable)
	model.On("Lookup", mock.Anything, "dog").Return(nil, false, assert.AnError)

	srv := httptest.NewServer(newRouter(newTestDeps(t, model, false)))
	defer srv.Close()

	resp := post(t, srv, "/embedding", `{"text":"cat"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = post(t, srv, "/embedding", `{"text":"dog"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]string{"error": "embedding provider failed"}, decode[map[string]string](t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	post(t, srv, "/embedding", `{"text":"hello"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `embedding_gateway_model_info{model="test-model",vector_size="3"} 1`)
	assert.Contains(t, string(body), "embedding_gateway_http_requests_total")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestDeps(t, newTableModel(t), false)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpacyPrefixServesSameRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/spacy/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-model", decode[gateway.HealthResponse](t, resp).Model)

	got := decode[gateway.EmbeddingResponse](t, post(t, srv, "/spacy/embedding", `{"text":"King"}`))
	assert.Equal(t, "king", got.Text)
	assert.True(t, got.HasVector)

	sim := decode[gateway.SimilarityResponse](t, post(t, srv, "/spacy/similarity", `{"text1":"king","text2":"queen"}`))
	assert.Greater(t, sim.Similarity, 0.9)

	batch := post(t, srv, "/spacy/batch_similarity", `{"target":"cat","words":["dog"]}`)
	assert.Equal(t, http.StatusOK, batch.StatusCode)
}

func TestWordCloudResetEndpoint(t *testing.T) {
	deps := newTestDeps(t, newTableModel(t), false)
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	deps.WordCloud.AddWord("cat", embeddings.Vector{0.1, 1, 0})

	resp, err := http.Get(srv.URL + "/wordcloud")
	require.NoError(t, err)
	defer resp.Body.Close()
	state := decode[wordcloud.State](t, resp)
	require.Len(t, state.Words, 1)
	assert.Equal(t, "cat", state.Words[0].Text)

	reset := post(t, srv, "/admin/reset", "")
	assert.Equal(t, http.StatusOK, reset.StatusCode)
	assert.Equal(t, resetResponse{Success: true, Message: "Word cloud reset successfully"}, decode[resetResponse](t, reset))
	assert.Empty(t, deps.WordCloud.Snapshot().Words)
}

func TestWordCloudSocketThroughRouter(t *testing.T) {
	srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev struct {
			Name string `json:"event"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		return ev.Name
	}
	assert.Equal(t, wordcloud.EventInitialize, read())

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "addWord", "data": map[string]string{"word": "cat"}}))
	assert.Equal(t, wordcloud.EventWordAdded, read())

	post(t, srv, "/admin/reset", "")
	assert.Equal(t, wordcloud.EventInitialize, read())
}

func TestWordCloudRoutesDisabled(t *testing.T) {
	deps := newTestDeps(t, newTableModel(t), false)
	deps.WordCloud, deps.Sockets = nil, nil
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp := post(t, srv, "/admin/reset", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
