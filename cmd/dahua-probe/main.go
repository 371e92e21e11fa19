// Command dahua-probe connects to one camera channel, logs demuxed
// frame activity, and serves Prometheus metrics — a minimal
// collaborator that exercises internal/manager end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dahuastream/dahuastream/internal/manager"
	"github.com/dahuastream/dahuastream/internal/media"
	"github.com/dahuastream/dahuastream/internal/metrics"
	"github.com/dahuastream/dahuastream/internal/session"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := session.Config{
		Host:       envOr("DAHUA_HOST", "192.168.1.108"),
		Port:       envOrInt("DAHUA_PORT", 37777),
		User:       envOr("DAHUA_USER", "admin"),
		Password:   envOr("DAHUA_PASSWORD", ""),
		Channel:    envOrInt("DAHUA_CHANNEL", 0),
		Subchannel: envOrInt("DAHUA_SUBCHANNEL", 0),
		TimeoutS:   envOrInt("DAHUA_TIMEOUT_S", 10),
		LatencyMS:  envOrInt("DAHUA_LATENCY_MS", 200),
	}
	metricsAddr := envOr("METRICS_ADDR", ":9477")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	var totalBytes uint64
	sink := func(frame *media.Frame) {
		totalBytes += uint64(len(frame.Payload))
		slog.Debug("frame",
			"kind", frame.Kind,
			"pts_ms", frame.PTS/int64(time.Millisecond),
			"bytes", humanize.Bytes(uint64(len(frame.Payload))),
			"total", humanize.Bytes(totalBytes),
		)
	}

	mgr := manager.New(cfg, resolvingDialer, nil, m, sink)

	httpSrv := &http.Server{Addr: metricsAddr, Handler: m.Handler()}
	go func() {
		slog.Info("metrics listening", "addr", metricsAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	slog.Info("dahua-probe starting", "host", cfg.Host, "port", cfg.Port, "channel", cfg.Channel)
	if err := mgr.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("manager error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// resolvingDialer dials addr directly when the host is already a
// literal IP, and falls back to the standard resolver otherwise
// (the reference decoder's DNS-resolution step, absent from the
// distilled spec's core but part of a complete client).
func resolvingDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
