// Package metrics exposes this engine's counters/gauges over Prometheus:
// promauto-registered series plus a cheap mirrored atomic Snapshot for
// periodic logging without scraping in-process, and an HTTP /metrics +
// /ready pair.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trailbridge/uagent/internal/logging"
)

var (
	FramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_rx_total",
		Help: "Total frames whose checksum verified and were dispatched.",
	})
	FramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_tx_total",
		Help: "Total frames encoded and written to a link.",
	})
	StateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_state_errors_total",
		Help: "Total unexpected bytes while hunting for the sync marker.",
	})
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_checksum_errors_total",
		Help: "Total valid-checksum frames with no matching route (bug-for-bug counter reuse; see unknown_topic for the distinct count). Checksum mismatches at the receive state machine are dropped without being counted.",
	})
	InvalidSizeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_invalid_size_errors_total",
		Help: "Total frames whose declared size exceeded MAX_PAYLOAD.",
	})
	MalformedMessageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_malformed_message_errors_total",
		Help: "Total frames a subscriber handler rejected.",
	})
	UnknownTopicErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_unknown_topic_errors_total",
		Help: "Total valid frames with no matching route (subset of checksum errors).",
	})
	ParamTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "param_request_timeouts_total",
		Help: "Total GetParam calls that expired before a response arrived.",
	})
	SyncRoundTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesync_round_trips_total",
		Help: "Total completed time-sync handshakes.",
	})
	ActiveLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_links",
		Help: "Current number of live sessions (links) this agent is driving.",
	})
	HandshakeRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_timeout_rejections_total",
		Help: "Total accepted links dropped for not negotiating within the deadline.",
	})
	LinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "link_errors_total",
		Help: "Link-level error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrAccept      = "accept"
	ErrListen      = "listen"
	ErrLinkRead    = "link_read"
	ErrLinkWrite   = "link_write"
	ErrNegotiation = "negotiation_timeout"
	ErrSerialOpen  = "serial_open"
	ErrSerialRead  = "serial_read"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging (avoids in-process
// Prometheus scraping just to print a summary line).
var (
	localFramesRx      uint64
	localFramesTx      uint64
	localStateErrors   uint64
	localChecksumErrs  uint64
	localInvalidSize   uint64
	localMalformed     uint64
	localUnknownTopic  uint64
	localParamTimeouts uint64
	localSyncRT        uint64
	localActiveLinks   uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	FramesRx      uint64
	FramesTx      uint64
	StateErrors   uint64
	ChecksumErrs  uint64
	InvalidSize   uint64
	Malformed     uint64
	UnknownTopic  uint64
	ParamTimeouts uint64
	SyncRT        uint64
	ActiveLinks   uint64
}

// Snap returns the current local-counter snapshot.
func Snap() Snapshot {
	return Snapshot{
		FramesRx:      atomic.LoadUint64(&localFramesRx),
		FramesTx:      atomic.LoadUint64(&localFramesTx),
		StateErrors:   atomic.LoadUint64(&localStateErrors),
		ChecksumErrs:  atomic.LoadUint64(&localChecksumErrs),
		InvalidSize:   atomic.LoadUint64(&localInvalidSize),
		Malformed:     atomic.LoadUint64(&localMalformed),
		UnknownTopic:  atomic.LoadUint64(&localUnknownTopic),
		ParamTimeouts: atomic.LoadUint64(&localParamTimeouts),
		SyncRT:        atomic.LoadUint64(&localSyncRT),
		ActiveLinks:   atomic.LoadUint64(&localActiveLinks),
	}
}

func IncFramesRx() { FramesRx.Inc(); atomic.AddUint64(&localFramesRx, 1) }
func IncFramesTx() { FramesTx.Inc(); atomic.AddUint64(&localFramesTx, 1) }
func IncStateError() {
	StateErrors.Inc()
	atomic.AddUint64(&localStateErrors, 1)
}
func IncChecksumError() {
	ChecksumErrors.Inc()
	atomic.AddUint64(&localChecksumErrs, 1)
}
func IncInvalidSizeError() {
	InvalidSizeErrors.Inc()
	atomic.AddUint64(&localInvalidSize, 1)
}
func IncMalformedMessageError() {
	MalformedMessageErrors.Inc()
	atomic.AddUint64(&localMalformed, 1)
}
func IncUnknownTopicError() {
	UnknownTopicErrors.Inc()
	atomic.AddUint64(&localUnknownTopic, 1)
}
func IncParamTimeout() {
	ParamTimeouts.Inc()
	atomic.AddUint64(&localParamTimeouts, 1)
}
func IncSyncRoundTrip() {
	SyncRoundTrips.Inc()
	atomic.AddUint64(&localSyncRT, 1)
}

// SetActiveLinks records the current session count.
func SetActiveLinks(n int) {
	ActiveLinks.Set(float64(n))
	atomic.StoreUint64(&localActiveLinks, uint64(n))
}

// IncLinkError increments the link-error counter for label.
func IncLinkError(label string) { LinkErrors.WithLabelValues(label).Inc() }

// IncHandshakeRejection counts a link dropped for missing its negotiation
// deadline.
func IncHandshakeRejection() { HandshakeRejections.Inc() }

// InitBuildInfo sets the build-info gauge and pre-registers error labels
// so the first error doesn't pay first-touch registration cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrAccept, ErrListen, ErrLinkRead, ErrLinkWrite, ErrNegotiation, ErrSerialOpen, ErrSerialRead} {
		LinkErrors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present, defaulting
// to ready so /metrics doesn't flap before one is registered.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
