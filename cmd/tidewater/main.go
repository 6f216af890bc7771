// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"strings"

	"github.com/AleutianAI/tidewater/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	relayURL  string
	logLevel  string
	cliLogger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tidewater",
	Short: "Client for the tidewater answer relay",
	Long: `tidewater talks to a running relay: it streams answers to the
terminal as they are generated and follows the live status feed for the
question in flight.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// bridgeURLFromRelay derives the public status bridge URL from the relay
// base URL, matching the relay's default mount path.
func bridgeURLFromRelay(baseURL string) string {
	wsBase := baseURL
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return strings.TrimSuffix(wsBase, "/") + "/broker/ws"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay-url", "http://localhost:12240",
		"Base URL of the tidewater relay")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cliLogger = logging.New(logging.Config{Level: logging.ParseLevel(logLevel)})
	}
}
