package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/chatrelay/internal/app"
	"github.com/ent0n29/chatrelay/internal/observability"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Listen address (default: $APP_BIND_ADDR or :8080)")

	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Run a standalone session memory store",
		Long:  "Serves the session store over HTTP so relays started with MEMORY_URL can share it.",
		RunE:  runMemory,
	}
	memoryCmd.Flags().String("addr", "", "Listen address (default: $MEMORY_BIND_ADDR or :8081)")

	RootCmd.AddCommand(serveCmd, memoryCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitErr(cmd, "load config", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.BindAddr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg)
	if err != nil {
		return exitErr(cmd, "build", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			observability.Logger().Error("cleanup failed", "error", err)
		}
	}()

	observability.Logger().Info("chat relay starting",
		"addr", cfg.BindAddr,
		"store_mode", built.StoreMode,
		"inference_mode", built.InferenceMode,
	)
	return serveUntilDone(ctx, &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.ShutdownTimeout)
}

func runMemory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitErr(cmd, "load config", err)
	}
	addr := cfg.MemoryBindAddr
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mem, err := app.BuildMemoryServer(ctx, cfg)
	if err != nil {
		return exitErr(cmd, "build memory store", err)
	}
	defer func() {
		if err := mem.Cleanup(); err != nil {
			observability.Logger().Error("cleanup failed", "error", err)
		}
	}()

	observability.Logger().Info("memory store starting", "addr", addr, "store_mode", mem.Mode)
	return serveUntilDone(ctx, &http.Server{
		Addr:              addr,
		Handler:           mem.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.ShutdownTimeout)
}

// serveUntilDone runs srv until ctx ends or the listener fails, then shuts it
// down within timeout.
func serveUntilDone(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		observability.Logger().Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			observability.Logger().Error("graceful shutdown failed", "error", err)
			_ = srv.Close()
			return err
		}
		observability.Logger().Info("shutdown complete")
		return nil
	})
	return g.Wait()
}
