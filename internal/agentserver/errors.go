package agentserver

import (
	"errors"

	"github.com/trailbridge/uagent/internal/metrics"
)

// Sentinel errors, wrapped with %w so callers can classify via errors.Is.
var (
	ErrListen      = errors.New("listen")
	ErrAccept      = errors.New("accept")
	ErrNegotiation = errors.New("negotiation_timeout")
	ErrMaxLinks    = errors.New("max_links")
	ErrContext     = errors.New("context_cancelled")
)

// mapErrToMetric maps a wrapped sentinel to a Prometheus link_errors_total
// label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrAccept):
		return metrics.ErrAccept
	case errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrNegotiation):
		return metrics.ErrNegotiation
	default:
		return "other"
	}
}
