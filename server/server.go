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

// Package server exposes the workflow executor over HTTP: workflow
// validation and invocation endpoints plus a health check.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-flow-go/compiler"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/node"
)

// Server is the workflow runtime HTTP server.
type Server struct {
	router   *mux.Router
	executor *compiler.WorkflowExecutor
}

// Option configures a Server.
type Option func(*Server)

// WithExecutor sets the workflow executor backing the endpoints.
func WithExecutor(executor *compiler.WorkflowExecutor) Option {
	return func(s *Server) {
		s.executor = executor
	}
}

// New creates the server and registers its routes.
func New(opts ...Option) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		executor: compiler.NewWorkflowExecutor(),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	s.router.Use(c.Handler)
	s.router.Use(loggingMiddleware)
	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/workflows/{workflow_id}/validate", s.handleValidate).Methods(http.MethodPost)
	s.router.HandleFunc("/workflows/{workflow_id}/invoke", s.handleInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// validateRequest is the body of the validate endpoint. InputData, when
// present, is additionally checked against the workflow's input schema.
type validateRequest struct {
	WfSpec    json.RawMessage `json:"wf_spec"`
	InputData map[string]any  `json:"input_data,omitempty"`
}

type invokeRequest struct {
	WfSpec     json.RawMessage `json:"wf_spec"`
	InputData  map[string]any  `json:"input_data"`
	RuntimeCtx map[string]any  `json:"runtime_ctx,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.WfSpec) == 0 {
		respondError(w, http.StatusBadRequest, "wf_spec is required")
		return
	}
	if err := s.executor.Validate(req.WfSpec, req.InputData); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.WfSpec) == 0 {
		respondError(w, http.StatusBadRequest, "wf_spec is required")
		return
	}

	workflowID := mux.Vars(r)["workflow_id"]
	log.Infof("invoking workflow %s", workflowID)

	output, err := s.executor.Invoke(r.Context(), req.WfSpec, req.InputData, node.RuntimeContext(req.RuntimeCtx))
	if err != nil {
		log.Errorf("workflow %s invocation failed: %v", workflowID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, output)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]any{"detail": detail})
}
