package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		transport:      "tcp",
		listenAddr:     ":20010",
		serialDev:      "/dev/ttyUSB0",
		serialBaud:     115200,
		maxLinks:       0,
		syncPeriodMS:   5000,
		connTimeoutMS:  15000,
		paramTimeoutMS: 2000,
		negotiationTO:  3 * time.Second,
		logFormat:      "text",
		logLevel:       "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badTransport", func(c *appConfig) { c.transport = "udp" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xml" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBaud", func(c *appConfig) { c.serialBaud = 0 }},
		{"badMaxLinks", func(c *appConfig) { c.maxLinks = -1 }},
		{"badSyncPeriod", func(c *appConfig) { c.syncPeriodMS = 0 }},
		{"badConnTimeout", func(c *appConfig) { c.connTimeoutMS = 0 }},
		{"badParamTimeout", func(c *appConfig) { c.paramTimeoutMS = 0 }},
		{"badNegotiationTO", func(c *appConfig) { c.negotiationTO = 0 }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidate_NilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
