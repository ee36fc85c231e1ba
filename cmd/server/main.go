// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/BookForge/internal/api"
	"github.com/Corphon/BookForge/internal/app"
	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/di"
	"github.com/Corphon/BookForge/internal/observability"
)

const serviceVersion = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port    string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "bookforge-server",
		Short: "Chat-driven book authoring wizard (HTTP + WebSocket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, dataDir)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides DATA_DIR)")
	return cmd
}

func run(portOverride, dataDirOverride string) error {
	log.Println("🚀 starting BookForge server...")

	// 1. 基础配置
	baseConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDirOverride != "" {
		baseConfig.DataDir = dataDirOverride
	}
	port := baseConfig.Port
	if portOverride != "" {
		port = portOverride
	}

	// 2. 目录和配置系统
	for _, dir := range []string{baseConfig.DataDir, baseConfig.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	cfg := config.GetCurrentConfig()
	log.Printf("✅ configuration ready (provider: %s)", cfg.LLMProvider)

	// 3. 链路追踪
	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.TraceStdout, os.Stderr, "bookforge", serviceVersion)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// 4. 服务和路由
	if err := app.InitServices(); err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	container := di.GetContainer()
	if err := container.Require("wizard", "export", "llm", "config", "metrics"); err != nil {
		return err
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("setup router: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 listening on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// 5. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Println("🛑 shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ws, ok := container.Get("websocket").(*api.WebSocketManager); ok {
		ws.Shutdown()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ forced shutdown: %v", err)
	}
	if svc, ok := container.Get("app").(*app.Services); ok {
		svc.Close()
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("⚠️ tracing shutdown: %v", err)
	}

	log.Println("✅ server stopped")
	return nil
}
