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
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/tidewater/services/relay/config"
	"github.com/AleutianAI/tidewater/services/relay/observability"
	"github.com/AleutianAI/tidewater/services/relay/routes"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

const serviceName = "relay-service"

func initTracer(otelEndpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// --- Init the tracer ---
	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing exporter disabled")
	}

	observability.InitMetrics()

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, cfg)

	slog.Info("Relay starting",
		"port", cfg.Port,
		"upstream", cfg.UpstreamAPIURL,
		"brokerPublicPath", cfg.BrokerPublicPath,
	)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: relay server exited: %v", err)
	}
}
