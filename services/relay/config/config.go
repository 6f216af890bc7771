// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the relay service configuration.
//
// # Description
//
// All configuration is environment-driven and resolved once at startup.
// Unset values that have no safe default are initialized to the Unset
// sentinel so that Validate can fail loudly instead of the service
// silently dialing a wrong host at request time.
//
// # Environment Variables
//
//   - TIDEWATER_PORT: HTTP listen port (default "12240").
//   - UPSTREAM_API_URL: Base URL of the question-answering backend. Required.
//   - BROKER_INTERNAL_WS_URL: WebSocket URL of the internal message broker
//     (e.g. "ws://rabbitmq:15674/ws"). Required for the status bridge.
//   - BROKER_PUBLIC_PATH: Public path browsers connect to for the status
//     bridge (default "/broker/ws").
//   - HEALTH_TIMEOUT_SECONDS: Bound on the upstream health probe (default 30).
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector address. Optional.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Unset is the placeholder for required values that were not provided.
// Validate rejects any field still carrying it.
const Unset = "unset"

// Config holds the resolved relay service configuration.
//
// # Fields
//
//   - Port: HTTP listen port.
//   - UpstreamAPIURL: Base URL of the QA backend (http/https).
//   - BrokerInternalWSURL: Internal broker WebSocket endpoint (ws/wss).
//   - BrokerPublicPath: Public upgrade path rewritten to the broker's path.
//   - HealthTimeout: Bound on the proxied upstream health check.
//   - OTLPEndpoint: OTLP collector address, empty to skip exporter setup.
//
// # Thread Safety
//
// Read-only after Load. Safe to share across handlers.
type Config struct {
	Port                string
	UpstreamAPIURL      string
	BrokerInternalWSURL string
	BrokerPublicPath    string
	HealthTimeout       time.Duration
	OTLPEndpoint        string
}

// Load reads the configuration from the environment.
//
// # Description
//
// Uses viper with AutomaticEnv so the service picks up container-injected
// variables without a config file. Required values default to the Unset
// sentinel; call Validate before serving.
//
// # Outputs
//
//   - *Config: Resolved configuration. Never nil.
//
// # Examples
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatalf("invalid configuration: %v", err)
//	}
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("TIDEWATER_PORT", "12240")
	v.SetDefault("UPSTREAM_API_URL", Unset)
	v.SetDefault("BROKER_INTERNAL_WS_URL", Unset)
	v.SetDefault("BROKER_PUBLIC_PATH", "/broker/ws")
	v.SetDefault("HEALTH_TIMEOUT_SECONDS", 30)

	return &Config{
		Port:                strings.TrimSpace(v.GetString("TIDEWATER_PORT")),
		UpstreamAPIURL:      sanitizeURL(v.GetString("UPSTREAM_API_URL")),
		BrokerInternalWSURL: sanitizeURL(v.GetString("BROKER_INTERNAL_WS_URL")),
		BrokerPublicPath:    strings.TrimSpace(v.GetString("BROKER_PUBLIC_PATH")),
		HealthTimeout:       time.Duration(v.GetInt("HEALTH_TIMEOUT_SECONDS")) * time.Second,
		OTLPEndpoint:        strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}
}

// sanitizeURL trims whitespace and stray quotes that container runtimes
// sometimes pass through literally.
func sanitizeURL(s string) string {
	return strings.Trim(s, "\"' ")
}

// Validate checks that every required value was provided and parses.
//
// # Description
//
// Fails on the Unset sentinel and on URLs missing a scheme or host. The
// broker URL must use a ws/wss scheme and the upstream URL http/https;
// mixing them up is the most common deployment mistake.
//
// # Outputs
//
//   - error: Non-nil with the offending variable named, nil if valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("TIDEWATER_PORT must not be empty")
	}

	if c.UpstreamAPIURL == Unset || c.UpstreamAPIURL == "" {
		return fmt.Errorf("UPSTREAM_API_URL is required but was not set")
	}
	u, err := url.Parse(c.UpstreamAPIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("UPSTREAM_API_URL %q is not a valid URL", c.UpstreamAPIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("UPSTREAM_API_URL must use http or https, got %q", u.Scheme)
	}

	if c.BrokerInternalWSURL == Unset || c.BrokerInternalWSURL == "" {
		return fmt.Errorf("BROKER_INTERNAL_WS_URL is required but was not set")
	}
	b, err := url.Parse(c.BrokerInternalWSURL)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return fmt.Errorf("BROKER_INTERNAL_WS_URL %q is not a valid URL", c.BrokerInternalWSURL)
	}
	if b.Scheme != "ws" && b.Scheme != "wss" {
		return fmt.Errorf("BROKER_INTERNAL_WS_URL must use ws or wss, got %q", b.Scheme)
	}

	if !strings.HasPrefix(c.BrokerPublicPath, "/") {
		return fmt.Errorf("BROKER_PUBLIC_PATH %q must start with /", c.BrokerPublicPath)
	}

	if c.HealthTimeout <= 0 {
		return fmt.Errorf("HEALTH_TIMEOUT_SECONDS must be positive")
	}

	return nil
}
