package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailbridge/uagent/internal/agentserver"
	"github.com/trailbridge/uagent/internal/bytelink"
	"github.com/trailbridge/uagent/internal/clock"
	"github.com/trailbridge/uagent/internal/session"
)

const serialTxBuffer = 512

// runSerial drives a single link over a serial port — no accept loop, no
// maxLinks, exactly one Node for the process's lifetime. Mirrors the
// teacher's cmd/can-server/backend_serial.go in spawning one RX-driving
// goroutine per opened port, but a byte-framed Node.Spin loop replaces the
// teacher's DecodeStream callback.
func runSerial(ctx context.Context, cfg *appConfig, buildNode agentserver.NodeBuilder, sessions *session.Registry, l *slog.Logger) error {
	port, err := bytelink.OpenSerialPort(cfg.serialDev, cfg.serialBaud, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.serialBaud)

	link := bytelink.NewSerialLink(ctx, port, serialTxBuffer)
	clk := clock.NewSystemClock()
	n := buildNode(link, clk)
	sessions.Add(n)

	defer func() {
		sessions.Remove(n)
		_ = n.Shutdown()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		consumed, err := n.Spin()
		if err != nil {
			l.Warn("serial_link_closed", "error", err)
			return nil
		}
		if consumed == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}
}

