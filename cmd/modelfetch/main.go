package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"embedding-gateway/internal/app"
	"embedding-gateway/internal/config"
	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/logger"
	"embedding-gateway/internal/tokenize"
)

func main() {
	if err := app.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type fetchOptions struct {
	url      string
	path     string
	name     string
	attempts int
	backoff  time.Duration
	verify   bool
	logLevel string
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := fetchOptions{
		url:      cfg.ModelURL,
		path:     cfg.ModelPath,
		name:     cfg.ModelName,
		attempts: cfg.ModelFetchAttempts,
		backoff:  time.Second,
		logLevel: cfg.LogLevel,
	}

	cmd := &cobra.Command{
		Use:   "modelfetch",
		Short: "Download the word2vec model used by the embedding gateway",
		Long: `modelfetch downloads a pretrained word2vec binary model to the path the
gateway loads it from. Nothing is downloaded when the file already exists.
URLs ending in .gz are decompressed while downloading.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", opts.url, "model download url (MODEL_URL)")
	cmd.Flags().StringVar(&opts.path, "path", opts.path, "destination file (MODEL_PATH)")
	cmd.Flags().StringVar(&opts.name, "name", opts.name, "model name reported after verification (MODEL_NAME)")
	cmd.Flags().IntVar(&opts.attempts, "attempts", opts.attempts, "download attempts (MODEL_FETCH_ATTEMPTS)")
	cmd.Flags().DurationVar(&opts.backoff, "backoff", opts.backoff, "base delay between attempts")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "load the model after download and print its dimensionality")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	return cmd
}

func runFetch(cmd *cobra.Command, opts fetchOptions) error {
	log := logger.NewWithWriter(cmd.ErrOrStderr(), opts.logLevel)

	fetcher := embeddings.Fetcher{Log: log, Attempts: opts.attempts, Backoff: opts.backoff}
	if err := fetcher.Fetch(cmd.Context(), opts.url, opts.path); err != nil {
		log.Error("model fetch failed", "err", err)
		return err
	}
	if !opts.verify {
		return nil
	}

	model, err := embeddings.LoadWord2Vec(opts.path, opts.name, tokenize.Options{})
	if err != nil {
		log.Error("model verification failed", "err", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d dimensions\n", model.Name(), model.Dim())
	return nil
}
