//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Command flowserver runs the workflow runtime HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/backend"
	"trpc.group/trpc-go/trpc-flow-go/compiler"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/node"
	"trpc.group/trpc-go/trpc-flow-go/server"
)

func main() {
	host := flag.String("host", "0.0.0.0", "Host to bind the server to")
	port := flag.Int("port", 8090, "Port to bind the server to")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	sandboxPool := flag.Int("sandbox-pool", 16, "Size of the user-code sandbox worker pool")
	maxConcurrency := flag.Int("max-concurrency", 0, "Max nodes running concurrently per invocation (0 = unlimited)")
	flag.Parse()

	log.SetLevel(*logLevel)

	sandbox, err := backend.NewSandbox(*sandboxPool)
	if err != nil {
		log.Fatalf("create sandbox: %v", err)
	}
	defer sandbox.Close()

	cc := &node.CompileContext{
		JQ:      backend.NewJQRunner(),
		Sandbox: sandbox,
		EmitEvent: func(_ context.Context, ev node.Event) {
			log.Debugf("event %v: node=%v", ev["type"], ev["node_id"])
		},
	}
	executor := compiler.NewWorkflowExecutor(
		compiler.WithCompileContext(cc),
		compiler.WithMaxConcurrency(*maxConcurrency),
	)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(server.WithExecutor(executor)).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Infof("workflow server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}
