package natsrpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/gateway"
	"embedding-gateway/internal/tokenize"
)

func newResponder(t *testing.T) *Responder {
	t.Helper()
	table, err := embeddings.NewTable(map[string]embeddings.Vector{
		"cat": {0.1, 1, 0},
		"dog": {0.2, 0.9, 0.1},
		"car": {1, 0, 0.9},
	})
	require.NoError(t, err)
	model := embeddings.NewPhraseModel("test-model", table, tokenize.Options{})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, nil, gateway.New(model, gateway.Options{}), "embedding.")
}

func request(r *Responder, op, body string) *nats.Msg {
	return &nats.Msg{Subject: r.Subject(op), Data: []byte(body)}
}

func TestSubject(t *testing.T) {
	r := newResponder(t)
	assert.Equal(t, "embedding.batch_similarity", r.Subject(OpBatchSimilarity))
}

func TestHandle(t *testing.T) {
	r := newResponder(t)

	tests := []struct {
		name string
		op   string
		body string
		want string
	}{
		{
			name: "health ignores payload",
			op:   OpHealth,
			want: `{"status":"healthy","model":"test-model","vector_size":3}`,
		},
		{
			name: "embedding",
			op:   OpEmbedding,
			body: `{"text":"Cat"}`,
			want: `{"text":"cat","embedding":[0.1,1,0],"has_vector":true}`,
		},
		{
			name: "similarity of unknown text is zero",
			op:   OpSimilarity,
			body: `{"text1":"cat","text2":"zzzz"}`,
			want: `{"text1":"cat","text2":"zzzz","similarity":0}`,
		},
		{
			name: "empty text",
			op:   OpEmbedding,
			body: `{"text":""}`,
			want: `{"error":"No text provided","status":400}`,
		},
		{
			name: "invalid json",
			op:   OpSimilarity,
			body: `{"text1":`,
			want: `{"error":"Invalid JSON payload","status":400}`,
		},
		{
			name: "target without vector",
			op:   OpBatchSimilarity,
			body: `{"target":"zzzz","words":["cat"]}`,
			want: `{"error":"No vector available for \"zzzz\"","status":400}`,
		},
		{
			name: "unknown operation",
			op:   "translate",
			body: `{}`,
			want: `{"error":"Unknown operation translate","status":400}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Handle(context.Background(), request(r, tt.op, tt.body))
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestHandleBatchSimilarity(t *testing.T) {
	r := newResponder(t)
	got := r.Handle(context.Background(), request(r, OpBatchSimilarity, `{"target":"cat","words":["car","cat","dog"]}`))

	var resp gateway.BatchSimilarityResponse
	require.NoError(t, json.Unmarshal(got, &resp))
	assert.Equal(t, "cat", resp.Target)
	require.Len(t, resp.Similarities, 2)
	assert.Equal(t, "dog", resp.Similarities[0].Word)
	assert.Equal(t, "car", resp.Similarities[1].Word)
}

func TestHandleProviderUnavailable(t *testing.T) {
	model := &embeddings.MockModel{}
	model.On("Lookup", mock.Anything, "cat").Return(embeddings.Vector(nil), false, embeddings.ErrUnavailable)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(log, nil, gateway.New(model, gateway.Options{}), "embedding")

	msg := request(r, OpEmbedding, `{"text":"cat"}`)
	msg.Header = nats.Header{}
	msg.Header.Set(RequestIDHeader, "req-1")

	var reply ErrorReply
	require.NoError(t, json.Unmarshal(r.Handle(context.Background(), msg), &reply))
	assert.Equal(t, http.StatusServiceUnavailable, reply.Status)
	assert.Equal(t, "embedding provider unavailable", reply.Error)
	model.AssertExpectations(t)
}
