// BitFlow Server
//
// Features:
// - Directory listing with metadata, one-shot or with progress (SSE, WebSocket)
// - Byte-range streaming for playback and resumable downloads
// - Separate worker pools for listing and streaming
// - Optional shared-credential auth (Basic or JWT)
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/api"
	"github.com/fruitsalade/bitflow/internal/auth"
	"github.com/fruitsalade/bitflow/internal/config"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML, TOML or JSON config file (default: $CONFIG_FILE)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("BitFlow Server starting...",
		zap.String("version", api.Version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	// Resolve the media root once; everything else works below it
	resolver, err := mediaroot.New(cfg.MediaRoot)
	if err != nil {
		logging.Fatal("invalid media root", zap.String("media_root", cfg.MediaRoot), zap.Error(err))
	}
	logging.Info("media root ready", zap.String("root", resolver.Root()))

	// Initialize auth
	authHandler, err := auth.New(auth.Config{
		Username: cfg.AuthUsername,
		Password: cfg.AuthPassword,
		Secret:   cfg.JWTSecret,
		TokenTTL: cfg.TokenTTL,
	})
	if err != nil {
		logging.Fatal("auth init failed", zap.Error(err))
	}
	if authHandler.Enabled() {
		logging.Info("shared credential auth enabled", zap.String("username", cfg.AuthUsername))
	} else {
		logging.Warn("AUTH_PASSWORD not set, serving without authentication")
	}

	// Create API server and its worker pools
	srv := api.NewServer(resolver, authHandler, cfg)
	srv.Start()
	logging.Info("worker pools started",
		zap.Int("list_workers", cfg.ListWorkers),
		zap.Int("stream_workers", cfg.StreamWorkers),
		zap.Int("queue", cfg.WorkerQueue))

	// Start metrics server
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// Start HTTP(S) server. No write timeout: streams last as long as
	// playback does.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	useTLS := cfg.TLSEnabled()
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...", zap.Duration("timeout", cfg.ShutdownTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logging.Warn("graceful shutdown timed out, closing connections", zap.Error(err))
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	logging.Info("server reachable on the local network",
		zap.String("url", scheme+"://"+net.JoinHostPort(localIP(), listenPort(cfg.ListenAddr))))

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}

	<-shutdownDone
	srv.Stop()
	logging.Info("server stopped")
}

// localIP returns the address of the interface used for outbound traffic.
// A UDP dial sends no packets.
func localIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func listenPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "8888"
	}
	return port
}
