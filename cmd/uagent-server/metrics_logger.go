package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trailbridge/uagent/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_rx", snap.FramesRx,
					"frames_tx", snap.FramesTx,
					"state_errors", snap.StateErrors,
					"checksum_errors", snap.ChecksumErrs,
					"invalid_size_errors", snap.InvalidSize,
					"malformed_message_errors", snap.Malformed,
					"unknown_topic_errors", snap.UnknownTopic,
					"param_timeouts", snap.ParamTimeouts,
					"sync_round_trips", snap.SyncRT,
					"active_links", snap.ActiveLinks,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
