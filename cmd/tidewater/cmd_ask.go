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
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/tidewater/pkg/chatstate"
	"github.com/AleutianAI/tidewater/pkg/streamclient"
	"github.com/AleutianAI/tidewater/services/relay/datatypes"
	"github.com/spf13/cobra"
)

var (
	askMode        string
	askSimilarityN int
	askLanguages   []string
	askStartYear   int
	askEndYear     int
	showStatus     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question and stream the answer",
	Long: `Streams the answer token-by-token as the service generates it.
With --status the live pipeline status (retrieving, ranking, generating)
is shown on stderr while the answer renders on stdout.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAskCommand,
}

func init() {
	askCmd.Flags().StringVar(&askMode, "mode", "hybrid", "Retrieval mode")
	askCmd.Flags().IntVar(&askSimilarityN, "similarity-n", datatypes.DefaultSimilarityN,
		"Number of candidate passages to retrieve")
	askCmd.Flags().StringSliceVar(&askLanguages, "languages", nil,
		"Language filter, e.g. --languages en,de")
	askCmd.Flags().IntVar(&askStartYear, "start-year", 0, "Lower publication year bound (0 = open)")
	askCmd.Flags().IntVar(&askEndYear, "end-year", 0, "Upper publication year bound (0 = open)")
	askCmd.Flags().BoolVar(&showStatus, "status", false, "Show live pipeline status on stderr")
	rootCmd.AddCommand(askCmd)
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	settings := chatstate.NewSettings()
	if err := settings.SetSimilarityN(askSimilarityN); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if err := settings.SetLanguages(askLanguages); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if err := settings.SetYearRange(askStartYear, askEndYear); err != nil {
		log.Fatalf("Error: %v", err)
	}

	state := chatstate.New(cliLogger)
	sessionID := state.BeginExchange(question)

	client := streamclient.New(strings.TrimSuffix(relayURL, "/"), bridgeURLFromRelay(relayURL), cliLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Status feed rides a second connection; correlation happens in
	// chatstate, so broadcasts about other sessions never surface here.
	if showStatus {
		go func() {
			err := client.SubscribeStatus(ctx, func(event datatypes.StatusEvent) {
				if state.ApplyStatus(event) {
					fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Status, event.Message)
				}
			})
			if err != nil {
				cliLogger.Warn("Status feed unavailable", "error", err)
			}
		}()
	}

	err := client.Ask(ctx, sessionID, settings.BuildAskRequest(question, askMode),
		func(chunk string) error {
			state.ApplyChunk(sessionID, chunk)
			fmt.Print(chunk)
			return nil
		})
	state.EndExchange(sessionID)
	fmt.Println()

	if err != nil {
		state.SetError(err.Error())
		var upstreamErr *streamclient.UpstreamError
		if errors.As(err, &upstreamErr) {
			log.Fatalf("Error: %v", upstreamErr)
		}
		// Mid-stream truncation: the partial answer already rendered.
		log.Fatalf("Error: answer incomplete: %v", err)
	}
}
