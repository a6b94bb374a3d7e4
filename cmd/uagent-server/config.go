package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig collects every runtime knob, populated from flags then
// overridden by environment variables for anything left at its default —
// flag.Visit records which flags the operator actually passed, and those
// always win over the environment.
type appConfig struct {
	transport   string
	listenAddr  string
	serialDev   string
	serialBaud  int
	maxLinks    int

	syncPeriodMS     int64
	connTimeoutMS    int64
	paramTimeoutMS   int64
	negotiationTO    time.Duration

	metricsAddr     string
	mdnsEnable      bool
	mdnsName        string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	transport := flag.String("transport", "tcp", "Link transport: tcp|serial")
	listen := flag.String("listen", ":20010", "TCP listen address (when --transport=tcp)")
	serialDev := flag.String("serial-device", "/dev/ttyUSB0", "Serial device path (when --transport=serial)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate (when --transport=serial)")
	maxLinks := flag.Int("max-links", 0, "Maximum simultaneous links (0 = unlimited; ignored for --transport=serial)")
	syncPeriod := flag.Int64("sync-period", 5000, "Time-sync request interval in milliseconds")
	connTimeout := flag.Int64("connection-timeout", 15000, "Connection liveness timeout in milliseconds")
	paramTimeout := flag.Int64("param-timeout-default", 2000, "GetParam timeout in milliseconds (validated only; the server issues no GetParam calls, so the value is not used)")
	negotiationTO := flag.Duration("negotiation-timeout", 3*time.Second, "Deadline for a freshly accepted link to produce its first negotiation frame")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9110); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default uagent-server-<hostname>)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.transport = *transport
	cfg.listenAddr = *listen
	cfg.serialDev = *serialDev
	cfg.serialBaud = *serialBaud
	cfg.maxLinks = *maxLinks
	cfg.syncPeriodMS = *syncPeriod
	cfg.connTimeoutMS = *connTimeout
	cfg.paramTimeoutMS = *paramTimeout
	cfg.negotiationTO = *negotiationTO
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.transport {
	case "tcp", "serial":
	default:
		return fmt.Errorf("invalid transport: %s", c.transport)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	if c.maxLinks < 0 {
		return errors.New("max-links must be >= 0")
	}
	if c.syncPeriodMS <= 0 {
		return errors.New("sync-period must be > 0")
	}
	if c.connTimeoutMS <= 0 {
		return errors.New("connection-timeout must be > 0")
	}
	if c.paramTimeoutMS <= 0 {
		return errors.New("param-timeout-default must be > 0")
	}
	if c.negotiationTO <= 0 {
		return errors.New("negotiation-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps UAGENT_* environment variables onto cfg unless the
// matching flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["transport"]; !ok {
		if v, ok := get("UAGENT_TRANSPORT"); ok && v != "" {
			c.transport = v
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("UAGENT_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-device"]; !ok {
		if v, ok := get("UAGENT_SERIAL_DEVICE"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["serial-baud"]; !ok {
		if v, ok := get("UAGENT_SERIAL_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.serialBaud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_SERIAL_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["max-links"]; !ok {
		if v, ok := get("UAGENT_MAX_LINKS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxLinks = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_MAX_LINKS: %w", err)
			}
		}
	}
	if _, ok := set["sync-period"]; !ok {
		if v, ok := get("UAGENT_SYNC_PERIOD_MS"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				c.syncPeriodMS = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_SYNC_PERIOD_MS: %w", err)
			}
		}
	}
	if _, ok := set["connection-timeout"]; !ok {
		if v, ok := get("UAGENT_CONNECTION_TIMEOUT_MS"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				c.connTimeoutMS = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_CONNECTION_TIMEOUT_MS: %w", err)
			}
		}
	}
	if _, ok := set["param-timeout-default"]; !ok {
		if v, ok := get("UAGENT_PARAM_TIMEOUT_MS"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				c.paramTimeoutMS = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_PARAM_TIMEOUT_MS: %w", err)
			}
		}
	}
	if _, ok := set["negotiation-timeout"]; !ok {
		if v, ok := get("UAGENT_NEGOTIATION_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.negotiationTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_NEGOTIATION_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("UAGENT_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("UAGENT_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("UAGENT_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("UAGENT_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("UAGENT_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("UAGENT_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid UAGENT_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
