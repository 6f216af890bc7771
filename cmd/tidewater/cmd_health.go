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
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check relay and upstream health",
	Run:   runHealthCommand,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	client := &http.Client{Timeout: 35 * time.Second}

	resp, err := client.Get(strings.TrimSuffix(relayURL, "/") + "/health")
	if err != nil {
		log.Fatalf("Error: relay unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		log.Fatalf("Error: reading health response: %v", err)
	}

	fmt.Printf("Status: %d\n%s\n", resp.StatusCode, string(body))
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Error: relay reports unhealthy upstream")
	}
}
