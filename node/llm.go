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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"trpc.group/trpc-go/trpc-flow-go/engine"
	"trpc.group/trpc-go/trpc-flow-go/graph"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// apiKeyEnv is the provider credential the llm executor requires in process
// state.
const apiKeyEnv = "OPENAI_API_KEY"

// llmClient is the chat surface the executor invokes. Satisfied by the
// openai client; tests substitute their own.
type llmClient interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error)
}

type openaiClient struct {
	client openai.Client
}

func (c *openaiClient) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// newLLMClient is swapped in tests.
var newLLMClient = func() llmClient {
	return &openaiClient{client: openai.NewClient()}
}

// NewLLMExecutor builds the llm executor. The chat client is initialised at
// construction for the declared model; when output_schema is present the
// request is bound to it for structured output and the response content is
// decoded as JSON.
func NewLLMExecutor(def *workflow.Node, cc *CompileContext) (Executor, error) {
	nodeID := def.ID
	modelName := stripProviderPrefix(def.Model)
	client := newLLMClient()

	return func(ctx context.Context, state graph.State, _ RuntimeContext) (graph.State, error) {
		if os.Getenv(apiKeyEnv) == "" {
			return engine.WriteError(nodeID, engine.ErrTypeMissingDependency, apiKeyEnv+" is not set", nil), nil
		}

		inputs, err := engine.ResolveInputs(state, def.InputMapping, true)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeLLM, err.Error(), nil), nil
		}

		message, err := formatMessage(def.Prompt, inputs)
		if err != nil {
			var keyErr *TemplateKeyError
			if errors.As(err, &keyErr) {
				return engine.WriteError(nodeID, engine.ErrTypePromptFormat,
					fmt.Sprintf("missing key for prompt template: '%s'", keyErr.Key), nil), nil
			}
			return engine.WriteError(nodeID, engine.ErrTypeLLM, err.Error(), nil), nil
		}

		params := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(modelName),
			Messages: []openai.ChatCompletionMessageParamUnion{message},
		}
		applyModelParams(&params, def.ModelParams)
		if def.OutputSchema != nil {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   nodeID + "_output",
						Schema: def.OutputSchema,
					},
				},
			}
		}

		content, err := client.Complete(ctx, params)
		if err != nil {
			return engine.WriteError(nodeID, engine.ErrTypeLLM, err.Error(), nil), nil
		}

		var result any = content
		if def.OutputSchema != nil {
			var structured any
			if err := json.Unmarshal([]byte(content), &structured); err != nil {
				return engine.WriteError(nodeID, engine.ErrTypeLLM,
					fmt.Sprintf("decode structured output: %v", err), nil), nil
			}
			result = structured
		}

		outputs := engine.ApplyOutputMapping(result, def.OutputMapping)
		cc.emitCompleted(ctx, nodeID, workflow.KindLLM)
		return engine.WriteNodeOutputs(nodeID, outputs), nil
	}, nil
}

// stripProviderPrefix turns "openai:gpt-4.1-mini" into "gpt-4.1-mini".
func stripProviderPrefix(model string) string {
	if _, name, found := strings.Cut(model, ":"); found {
		return name
	}
	return model
}

// formatMessage renders the node prompt into a user message. A string
// prompt is a template filled from the resolved inputs; a multimodal prompt
// preserves the authored part order.
func formatMessage(prompt *workflow.Prompt, inputs map[string]any) (openai.ChatCompletionMessageParamUnion, error) {
	if prompt.IsText() {
		filled, err := fillTemplate(prompt.Text, inputs)
		if err != nil {
			return openai.ChatCompletionMessageParamUnion{}, err
		}
		return openai.UserMessage(filled), nil
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(prompt.Parts))
	for _, part := range prompt.Parts {
		filled, err := fillTemplate(part.Content, inputs)
		if err != nil {
			return openai.ChatCompletionMessageParamUnion{}, err
		}
		switch part.Type {
		case workflow.PromptPartText:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfText: &openai.ChatCompletionContentPartTextParam{Text: filled},
			})
		case workflow.PromptPartImageURL:
			parts = append(parts, openai.ChatCompletionContentPartUnionParam{
				OfImageURL: &openai.ChatCompletionContentPartImageParam{
					// Accepts a URL or a data URI.
					ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: filled},
				},
			})
		default:
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported prompt part type %q", part.Type)
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}, nil
}

func applyModelParams(params *openai.ChatCompletionNewParams, modelParams map[string]any) {
	for key, value := range modelParams {
		switch key {
		case "temperature":
			if f, ok := asFloat(value); ok {
				params.Temperature = openai.Float(f)
			}
		case "top_p":
			if f, ok := asFloat(value); ok {
				params.TopP = openai.Float(f)
			}
		case "max_tokens":
			if f, ok := asFloat(value); ok {
				params.MaxCompletionTokens = openai.Int(int64(f))
			}
		case "presence_penalty":
			if f, ok := asFloat(value); ok {
				params.PresencePenalty = openai.Float(f)
			}
		case "frequency_penalty":
			if f, ok := asFloat(value); ok {
				params.FrequencyPenalty = openai.Float(f)
			}
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
