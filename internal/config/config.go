// SPDX-License-Identifier: MIT

// Package config loads the agent configuration from the environment.
// Precedence is ENV > defaults; there is no config file, the agent is
// meant to run under a process supervisor with a fixed environment.
package config

import (
	"fmt"
	"time"
)

// Config holds the full runtime configuration of the agent.
type Config struct {
	// Broker settings.
	BrokerHost        string
	BrokerUser        string
	BrokerPass        string
	Queue             string
	MessageTTL        time.Duration
	ConnectRetryDelay time.Duration

	// Radio front-end settings handed to rtl_fm.
	Frequency  string
	SampleRate int
	Gain       int
	RTLFMBin   string

	// Protocol decoder settings handed to multimon-ng.
	MultimonBin string
	Protocol    string

	// Pipeline behaviour.
	PollInterval time.Duration
	BackoffUnit  time.Duration
	BackoffCap   time.Duration

	// Observability.
	AuditPath string // append-only record sink, empty disables
	OpsAddr   string // ops HTTP listener (/healthz, /readyz, /metrics), empty disables
	LogLevel  string
}

// FromEnv builds a Config from PAGERSTREAM_* environment variables,
// falling back to defaults that match the reference deployment.
func FromEnv() Config {
	return Config{
		BrokerHost:        ParseString("PAGERSTREAM_BROKER_HOST", "localhost"),
		BrokerUser:        ParseString("PAGERSTREAM_BROKER_USER", "guest"),
		BrokerPass:        ParseString("PAGERSTREAM_BROKER_PASS", "guest"),
		Queue:             ParseString("PAGERSTREAM_BROKER_QUEUE", "p2000"),
		MessageTTL:        ParseDuration("PAGERSTREAM_MESSAGE_TTL", 5*time.Minute),
		ConnectRetryDelay: ParseDuration("PAGERSTREAM_CONNECT_RETRY_DELAY", 5*time.Second),

		Frequency:  ParseString("PAGERSTREAM_FREQUENCY", "169.65M"),
		SampleRate: ParseInt("PAGERSTREAM_SAMPLE_RATE", 22050),
		Gain:       ParseInt("PAGERSTREAM_GAIN", 42),
		RTLFMBin:   ParseString("PAGERSTREAM_RTL_FM_BIN", "rtl_fm"),

		MultimonBin: ParseString("PAGERSTREAM_MULTIMON_BIN", "multimon-ng"),
		Protocol:    ParseString("PAGERSTREAM_PROTOCOL", "FLEX"),

		PollInterval: ParseDuration("PAGERSTREAM_POLL_INTERVAL", 250*time.Millisecond),
		BackoffUnit:  ParseDuration("PAGERSTREAM_BACKOFF_UNIT", 3*time.Second),
		BackoffCap:   ParseDuration("PAGERSTREAM_BACKOFF_CAP", 30*time.Second),

		AuditPath: ParseString("PAGERSTREAM_AUDIT_PATH", ""),
		OpsAddr:   ParseString("PAGERSTREAM_OPS_ADDR", ":9090"),
		LogLevel:  ParseString("LOG_LEVEL", "info"),
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep inside the pipeline.
func (c Config) Validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("broker host must not be empty")
	}
	if c.Queue == "" {
		return fmt.Errorf("queue name must not be empty")
	}
	if c.Frequency == "" {
		return fmt.Errorf("frequency must not be empty")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.MessageTTL <= 0 {
		return fmt.Errorf("message TTL must be positive, got %s", c.MessageTTL)
	}
	if c.ConnectRetryDelay <= 0 {
		return fmt.Errorf("connect retry delay must be positive, got %s", c.ConnectRetryDelay)
	}
	if c.BackoffUnit <= 0 || c.BackoffCap < c.BackoffUnit {
		return fmt.Errorf("backoff unit %s and cap %s are inconsistent", c.BackoffUnit, c.BackoffCap)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// BrokerURL renders the AMQP dial string. The password is embedded, so the
// result must never be logged; log BrokerHost instead.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s/", c.BrokerUser, c.BrokerPass, c.BrokerHost)
}
