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

package node

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// defaultHTTPTimeoutS bounds an http_request round trip when the node
// declares no timeout of its own.
const defaultHTTPTimeoutS = 30.0

// NewHTTPRequestExecutor builds the http_request executor. The reserved
// input keys are url, method and headers; every remaining input forms the
// request body — query parameters for GET/DELETE, a JSON body for
// POST/PUT/PATCH. String inputs are template-filled against the resolved
// inputs, deeply across nested objects and arrays.
func NewHTTPRequestExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	client := &http.Client{
		Timeout: time.Duration(def.TimeoutSeconds(defaultHTTPTimeoutS) * float64(time.Second)),
	}
	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		inputs, err := engine.ResolveInputs(state, def.InputMapping, true)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeMapping, err.Error(), nil), nil
		}

		result, errUpdate := doRequest(ctx, client, nodeID, inputs)
		if errUpdate != nil {
			return errUpdate, nil
		}

		outputs := engine.ApplyOutputMapping(result, def.OutputMapping)
		cc.emitCompleted(ctx, nodeID, workflow.KindHTTPRequest)
		return engine.WriteNodeOutputs(nodeID, outputs), nil
	}, nil
}

func doRequest(ctx context.Context, client *http.Client, nodeID string, inputs map[string]any) (map[string]any, graph.State) {
	httpErr := func(msg string, details map[string]any) graph.State {
		return engine.WriteError(nodeID, engine.ErrTypeHTTPRequest, msg, details)
	}

	rawURL, err := deepFillTemplate(inputs["url"], inputs)
	if err != nil {
		return nil, httpErr(err.Error(), nil)
	}
	targetURL, ok := rawURL.(string)
	if !ok {
		return nil, httpErr(fmt.Sprintf("url must resolve to a string, got: %T", rawURL), nil)
	}

	method := "GET"
	if m, ok := inputs["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	headers := map[string]any{}
	if h, ok := inputs["headers"].(map[string]any); ok {
		headers = h
	}

	body := make(map[string]any)
	for k, v := range inputs {
		switch k {
		case "url", "method", "headers":
		default:
			body[k] = v
		}
	}

	var reqBody io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(body) > 0 {
			query := url.Values{}
			for k, v := range body {
				query.Set(k, stringify(v))
			}
			sep := "?"
			if strings.Contains(targetURL, "?") {
				sep = "&"
			}
			targetURL += sep + query.Encode()
		}
	default:
		if len(body) > 0 {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, httpErr(fmt.Sprintf("encode body: %v", err), nil)
			}
			reqBody = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reqBody)
	if err != nil {
		return nil, httpErr(err.Error(), nil)
	}
	for k, v := range headers {
		req.Header.Set(k, stringify(v))
	}
	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, httpErr(err.Error(), nil)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httpErr(err.Error(), nil)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"ok":      resp.StatusCode >= 200 && resp.StatusCode < 300,
		"status":  resp.StatusCode,
		"headers": respHeaders,
	}
	for k, v := range parseResponseBody(bodyBytes, resp.Header.Get("Content-Type")) {
		result[k] = v
	}

	if result["ok"] == false {
		return nil, httpErr(fmt.Sprintf("HTTP %d for %s", resp.StatusCode, targetURL), result)
	}
	return result, nil
}

// parseResponseBody returns a JSON-friendly body representation: body_json
// when the content type looks like JSON and decodes, else body_text when
// the bytes are valid UTF-8, else body_b64.
func parseResponseBody(body []byte, contentType string) map[string]any {
	out := map[string]any{"body_bytes_len": len(body)}

	ct := strings.ToLower(contentType)
	if mediaType, _, found := strings.Cut(ct, ";"); found {
		ct = strings.TrimSpace(mediaType)
	}
	looksJSON := strings.Contains(ct, "application/json") || strings.HasSuffix(ct, "+json")

	if looksJSON {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			out["body_json"] = decoded
			return out
		}
	}
	if utf8.Valid(body) {
		out["body_text"] = string(body)
		return out
	}
	out["body_b64"] = base64.StdEncoding.EncodeToString(body)
	return out
}
