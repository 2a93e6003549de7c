package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/chatrelay/internal/chat"
	"github.com/ent0n29/chatrelay/internal/config"
	"github.com/ent0n29/chatrelay/internal/httpapi"
	"github.com/ent0n29/chatrelay/internal/inference"
	"github.com/ent0n29/chatrelay/internal/memory"
	"github.com/ent0n29/chatrelay/internal/observability"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Chat          *chat.Service
	Store         memory.Store
	Metrics       *observability.Metrics
	StoreMode     string
	InferenceMode string

	// Cleanup should be called on shutdown to release external resources (DB pools, files).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, storeMode, err := memory.NewStore(ctx, storeOptions(cfg), metrics)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	backend, inferenceMode, err := inference.NewBackend(inference.Config{
		Mode:               cfg.InferenceMode,
		HTTPURL:            cfg.InferenceHTTPURL,
		WorkersAIBaseURL:   cfg.WorkersAIBaseURL,
		WorkersAIAccountID: cfg.WorkersAIAccountID,
		WorkersAIAPIToken:  cfg.WorkersAIAPIToken,
		WorkersAIModel:     cfg.WorkersAIModel,
		AnthropicAPIKey:    cfg.AnthropicAPIKey,
		AnthropicModel:     cfg.AnthropicModel,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("inference backend init failed: %w", err)
	}

	adapter := inference.NewAdapter(backend, cfg.InferenceMaxTokens, cfg.InferenceTimeout, metrics)
	chatService := chat.NewService(store, adapter, metrics, chat.WithDefaultSessionID(cfg.DefaultSessionID))
	api := httpapi.New(cfg, chatService, metrics)

	cleanup := func() error {
		var errs []string
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Chat:          chatService,
		Store:         store,
		Metrics:       metrics,
		StoreMode:     storeMode,
		InferenceMode: inferenceMode,
		Cleanup:       cleanup,
	}, nil
}

// MemoryServer is a standalone session memory store process.
type MemoryServer struct {
	Handler http.Handler
	Mode    string
	Cleanup func() error
}

// BuildMemoryServer serves the configured local backend over HTTP. MEMORY_URL
// is ignored so a store process never proxies to another one.
func BuildMemoryServer(ctx context.Context, cfg config.Config) (*MemoryServer, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_memory")
	opts := storeOptions(cfg)
	opts.MemoryURL = ""

	backend, mode, err := memory.NewBackend(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("memory backend init failed: %w", err)
	}
	store := memory.NewSessionStore(backend, metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", memory.NewHandler(store))

	return &MemoryServer{Handler: mux, Mode: mode, Cleanup: store.Close}, nil
}

// OpenStore opens the configured store for one-off reads such as the history command.
func OpenStore(ctx context.Context, cfg config.Config) (memory.Store, string, error) {
	return memory.NewStore(ctx, storeOptions(cfg), nil)
}

func storeOptions(cfg config.Config) memory.Options {
	return memory.Options{
		MemoryURL:   cfg.MemoryURL,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}
}
