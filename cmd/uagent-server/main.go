package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/trailbridge/uagent/internal/agentserver"
	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/metrics"
	"github.com/trailbridge/uagent/internal/node"
	"github.com/trailbridge/uagent/internal/session"
)

// Helper implementations moved to dedicated files: config.go, logger.go,
// metrics_logger.go, mdns.go, backend_serial.go, version.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("uagent-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	buildNode := func(link bytelink.ByteLink, clk clock.Clock) *node.Node {
		return node.New(link, clk,
			node.WithSyncPeriodMS(cfg.syncPeriodMS),
			node.WithConnTimeoutMS(cfg.connTimeoutMS),
			node.WithLogger(l),
		)
	}
	sessions := session.New()

	var srv *agentserver.Server
	ready := make(chan struct{})

	switch cfg.transport {
	case "serial":
		close(ready) // serial mode has no listener to wait on
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runSerial(ctx, cfg, buildNode, sessions, l); err != nil {
				l.Error("serial_backend_error", "error", err)
				cancel()
			}
		}()
	default:
		srv = agentserver.New(
			agentserver.WithListenAddr(cfg.listenAddr),
			agentserver.WithNodeBuilder(buildNode),
			agentserver.WithSessions(sessions),
			agentserver.WithLogger(l),
			agentserver.WithMaxLinks(cfg.maxLinks),
			agentserver.WithNegotiationTimeout(cfg.negotiationTO),
		)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("tcp_server_error", "error", err)
				cancel()
			}
		}()
		go func() {
			select {
			case <-srv.Ready():
				close(ready)
			case <-ctx.Done():
			}
		}()
	}

	// Start mDNS advertisement once a listener (tcp transport only) is ready.
	go func() {
		if !cfg.mdnsEnable || srv == nil {
			return
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-ready:
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Warn("shutdown_error", "error", err)
		}
	}
	wg.Wait()
}
