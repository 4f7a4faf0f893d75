package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/cache"
	"github.com/fyrsmithlabs/repoctx/internal/config"
	"github.com/fyrsmithlabs/repoctx/internal/embeddings"
	"github.com/fyrsmithlabs/repoctx/internal/logging"
	"github.com/fyrsmithlabs/repoctx/internal/redact"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
	"github.com/fyrsmithlabs/repoctx/internal/telemetry"
	"github.com/fyrsmithlabs/repoctx/internal/vectorstore"
)

// app owns the collaborators of one CLI invocation.
type app struct {
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	nc        *nats.Conn
	embedder  *embeddings.Client
	store     vectorstore.Store
	// scrubber is nil unless redaction is enabled somewhere.
	scrubber refine.Scrubber
	pipeline *retrieval.Pipeline
}

// newApp wires config into a ready pipeline. root supplies the gitleaks
// allowlist for redaction. On error everything created so far is closed.
func newApp(ctx context.Context, cfg *config.Config, root string) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.logger, err = logging.New(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if a.telemetry, err = telemetry.New(ctx, &cfg.Telemetry, a.logger.Named("telemetry")); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Controller.Redact || cfg.Server.Redact {
		r, err := redact.ForRepository(root)
		if err != nil {
			return nil, fmt.Errorf("failed to create redactor: %w", err)
		}
		a.scrubber = r
	}

	deps := retrieval.Deps{Tracer: a.telemetry.Tracer("github.com/fyrsmithlabs/repoctx/internal/retrieval")}
	if cfg.Embedding.Provider != "none" {
		if err = a.initVectors(cfg, &deps); err != nil {
			return nil, err
		}
	}
	if deps.Controller, err = newController(cfg, a.controllerScrubber(cfg), a.logger); err != nil {
		return nil, err
	}

	if a.pipeline, err = retrieval.New(cfg.Pipeline(), deps, a.logger.Named("retrieval")); err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return a, nil
}

func (a *app) initVectors(cfg *config.Config, deps *retrieval.Deps) (err error) {
	provider, err := embeddings.NewProvider(cfg.Embedding.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer func() {
		if err != nil && a.embedder == nil {
			provider.Close()
		}
	}()

	var c cache.Cache
	switch cfg.Cache.Backend {
	case "memory":
		c = cache.NewMemory()
	case "nats":
		a.nc, err = nats.Connect(cfg.Cache.NATSURL,
			nats.Name("repoctx"),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Cache.NATSURL, err)
		}
		kv, err := cache.NewNATS(a.nc, cfg.Cache.NATSConfig(), a.logger.Named("cache"))
		if err != nil {
			return fmt.Errorf("failed to open embedding cache: %w", err)
		}
		c = kv
		a.logger.Info("connected to NATS", zap.String("url", cfg.Cache.NATSURL))
	}
	a.embedder = embeddings.NewClient(provider, c, cfg.Embedding.ClientConfig(), a.logger.Named("embeddings"))
	deps.Embedder = a.embedder

	switch cfg.VectorStore.Backend {
	case "qdrant":
		store, err := vectorstore.NewQdrantStore(cfg.VectorStore.QdrantConfig(), a.logger.Named("vectorstore"))
		if err != nil {
			return fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		a.store = store
	default:
		store, err := vectorstore.NewChromemStore(cfg.VectorStore.ChromemConfig(), a.logger.Named("vectorstore"))
		if err != nil {
			return fmt.Errorf("failed to create vector store: %w", err)
		}
		a.store = store
	}
	deps.Store = a.store
	return nil
}

func (a *app) controllerScrubber(cfg *config.Config) refine.Scrubber {
	if cfg.Controller.Redact {
		return a.scrubber
	}
	return nil
}

// outputScrubber is the scrubber applied to served snippet content.
func (a *app) outputScrubber(cfg *config.Config) refine.Scrubber {
	if cfg.Server.Redact {
		return a.scrubber
	}
	return nil
}

func newController(cfg *config.Config, scrubber refine.Scrubber, logger *zap.Logger) (refine.Controller, error) {
	if cfg.Controller.Provider != "openai" {
		return nil, nil
	}
	ctrl, err := refine.NewOpenAIController(
		cfg.Controller.OpenAIConfig(),
		cfg.Controller.LLMConfig(),
		scrubber,
		logger.Named("controller"),
	)
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Close releases every collaborator in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.Background()))
	}
	if a.logger != nil {
		errs = append(errs, logging.Sync(a.logger))
	}
	return errors.Join(errs...)
}
