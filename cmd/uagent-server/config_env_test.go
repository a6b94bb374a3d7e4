package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("UAGENT_SERIAL_BAUD", "230400")
	os.Setenv("UAGENT_MDNS_ENABLE", "true")
	os.Setenv("UAGENT_NEGOTIATION_TIMEOUT", "500ms")
	os.Setenv("UAGENT_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("UAGENT_SERIAL_BAUD")
		os.Unsetenv("UAGENT_MDNS_ENABLE")
		os.Unsetenv("UAGENT_NEGOTIATION_TIMEOUT")
		os.Unsetenv("UAGENT_LOG_METRICS_INTERVAL")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.serialBaud != 230400 {
		t.Fatalf("expected serialBaud override, got %d", base.serialBaud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.negotiationTO != 500*time.Millisecond {
		t.Fatalf("expected negotiationTO 500ms got %v", base.negotiationTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	base.serialBaud = 115200
	os.Setenv("UAGENT_SERIAL_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("UAGENT_SERIAL_BAUD") })

	if err := applyEnvOverrides(base, map[string]struct{}{"serial-baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.serialBaud != 115200 {
		t.Fatalf("expected serialBaud unchanged at 115200 (flag wins), got %d", base.serialBaud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("UAGENT_MAX_LINKS", "notint")
	t.Cleanup(func() { os.Unsetenv("UAGENT_MAX_LINKS") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_BadDuration(t *testing.T) {
	base := baseConfig()
	os.Setenv("UAGENT_NEGOTIATION_TIMEOUT", "soon")
	t.Cleanup(func() { os.Unsetenv("UAGENT_NEGOTIATION_TIMEOUT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
