package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"embedding-gateway/internal/app"
	"embedding-gateway/internal/gateway"
	"embedding-gateway/internal/httputil"
	"embedding-gateway/internal/metrics"
	"embedding-gateway/internal/natsrpc"
)

const msgInvalidJSON = "Invalid JSON payload"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	addr := net.JoinHostPort(deps.Config.Host, strconv.Itoa(deps.Config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Log.Info("gateway listening", "addr", addr, "model", deps.Model.Name(), "vector_size", deps.Model.Dim())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		deps.Log.Info("shutting down")
		// Hijacked websocket connections are not tracked by Shutdown.
		if deps.Sockets != nil {
			deps.Sockets.Close()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if deps.NATS != nil {
		responder := natsrpc.New(deps.Log, deps.NATS, deps.Gateway, deps.Config.NATSSubjectPrefix)
		g.Go(func() error {
			return responder.Serve(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		deps.Log.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}

func newRouter(deps app.Deps) http.Handler {
	opts := httputil.RouterOptions{
		Timeout: time.Duration(deps.Config.RequestTimeout) * time.Second,
	}
	if deps.Config.MetricsEnabled && deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}
	r := httputil.NewRouter(deps.Log, opts)

	// The reverse proxy in front of the word cloud forwards /spacy/* with
	// the prefix intact.
	apiRoutes(r, deps)
	r.Route("/spacy", func(r chi.Router) {
		apiRoutes(r, deps)
	})
	if deps.WordCloud != nil {
		r.Get("/wordcloud", wordCloudHandler(deps))
		r.Post("/admin/reset", resetHandler(deps))
		r.Handle("/ws", deps.Sockets)
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.NewMetricsHandler(opts.Metrics))
	}
	return r
}

func apiRoutes(r chi.Router, deps app.Deps) {
	r.Get("/health", healthHandler(deps))
	r.Post("/embedding", embeddingHandler(deps))
	r.Post("/similarity", similarityHandler(deps))
	r.Post("/batch_similarity", batchSimilarityHandler(deps))
}

func wordCloudHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.WordCloud.Snapshot())
	}
}

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func resetHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.WordCloud.Reset()
		httputil.WriteJSON(w, http.StatusOK, resetResponse{Success: true, Message: "Word cloud reset successfully"})
	}
}

func healthHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Gateway.Health())
	}
}

func embeddingHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.EmbeddingRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Fail(deps.Log, w, msgInvalidJSON, err, http.StatusBadRequest)
			return
		}
		resp, err := deps.Gateway.Embedding(r.Context(), req)
		respond(deps, w, r, resp, err)
	}
}

func similarityHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.SimilarityRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Fail(deps.Log, w, msgInvalidJSON, err, http.StatusBadRequest)
			return
		}
		resp, err := deps.Gateway.Similarity(r.Context(), req)
		respond(deps, w, r, resp, err)
	}
}

func batchSimilarityHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gateway.BatchSimilarityRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Fail(deps.Log, w, msgInvalidJSON, err, http.StatusBadRequest)
			return
		}
		resp, err := deps.Gateway.BatchSimilarity(r.Context(), req)
		respond(deps, w, r, resp, err)
	}
}

func respond(deps app.Deps, w http.ResponseWriter, r *http.Request, body any, err error) {
	if err != nil {
		log := deps.Log.With("path", r.URL.Path)
		httputil.Fail(log, w, gateway.Message(err), err, gateway.StatusCode(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}
