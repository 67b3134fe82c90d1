package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"embedding-gateway/internal/gateway"
)

// QueueGroup spreads requests across gateway replicas.
const QueueGroup = "embedding-gateway"

// RequestIDHeader carries a caller supplied request id.
const RequestIDHeader = "X-Request-Id"

const msgInvalidJSON = "Invalid JSON payload"

// Operations served over NATS, appended to the subject prefix.
const (
	OpHealth          = "health"
	OpEmbedding       = "embedding"
	OpSimilarity      = "similarity"
	OpBatchSimilarity = "batch_similarity"
)

// ErrorReply is sent in place of a result when an operation fails.
type ErrorReply struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Responder answers gateway operations as NATS request/reply.
type Responder struct {
	log    *slog.Logger
	nc     *nats.Conn
	svc    *gateway.Service
	prefix string
}

func New(log *slog.Logger, nc *nats.Conn, svc *gateway.Service, prefix string) *Responder {
	return &Responder{log: log, nc: nc, svc: svc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the full subject for op.
func (r *Responder) Subject(op string) string {
	return r.prefix + "." + op
}

// Serve subscribes to every operation subject and blocks until ctx is done.
func (r *Responder) Serve(ctx context.Context) error {
	var subs []*nats.Subscription
	for _, op := range []string{OpHealth, OpEmbedding, OpSimilarity, OpBatchSimilarity} {
		sub, err := r.nc.QueueSubscribe(r.Subject(op), QueueGroup, func(msg *nats.Msg) {
			if msg.Reply == "" {
				return
			}
			if err := msg.Respond(r.Handle(ctx, msg)); err != nil {
				r.log.Error("failed to send reply", "subject", msg.Subject, "err", err)
			}
		})
		if err != nil {
			unsubscribe(subs)
			return err
		}
		subs = append(subs, sub)
	}
	r.log.Info("nats responder started", "prefix", r.prefix, "group", QueueGroup)

	<-ctx.Done()
	return unsubscribe(subs)
}

func unsubscribe(subs []*nats.Subscription) error {
	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Unsubscribe())
	}
	return errors.Join(errs...)
}

// Handle runs the operation named by the message subject and returns the
// encoded reply.
func (r *Responder) Handle(ctx context.Context, msg *nats.Msg) []byte {
	reqID := msg.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	log := r.log.With("subject", msg.Subject, "request_id", reqID)

	op := strings.TrimPrefix(msg.Subject, r.prefix+".")
	result, err := r.dispatch(ctx, op, msg.Data)
	if err != nil {
		status := gateway.StatusCode(err)
		message := gateway.Message(err)
		var bad *badRequestError
		if errors.As(err, &bad) {
			status, message = http.StatusBadRequest, bad.message
		}
		if status >= http.StatusInternalServerError {
			log.Error(message, "err", err, "status", status)
		} else {
			log.Warn(message, "err", err, "status", status)
		}
		return encode(ErrorReply{Error: message, Status: status})
	}
	return encode(result)
}

type badRequestError struct {
	message string
	err     error
}

func (e *badRequestError) Error() string { return e.message }

func (e *badRequestError) Unwrap() error { return e.err }

func (r *Responder) dispatch(ctx context.Context, op string, data []byte) (any, error) {
	switch op {
	case OpHealth:
		return r.svc.Health(), nil
	case OpEmbedding:
		var req gateway.EmbeddingRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return r.svc.Embedding(ctx, req)
	case OpSimilarity:
		var req gateway.SimilarityRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return r.svc.Similarity(ctx, req)
	case OpBatchSimilarity:
		var req gateway.BatchSimilarityRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return r.svc.BatchSimilarity(ctx, req)
	default:
		return nil, &badRequestError{message: "Unknown operation " + op}
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &badRequestError{message: msgInvalidJSON, err: err}
	}
	return nil
}

func encode(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		body, _ = json.Marshal(ErrorReply{Error: http.StatusText(http.StatusInternalServerError), Status: http.StatusInternalServerError})
	}
	return body
}
