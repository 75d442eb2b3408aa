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

package workflow

import (
	"encoding/json"
	"fmt"
)

// Prompt part types.
const (
	PromptPartText     = "text"
	PromptPartImageURL = "image_url"
)

// PromptPart is one canonical part of a multimodal prompt.
type PromptPart struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Prompt is an LLM node prompt: either a plain template string or an
// ordered list of multimodal parts. Legacy part encodings — ["text", "..."]
// pairs and provider-shaped {"type": "text", "text": "..."} /
// {"type": "image_url", "image_url": {"url": "..."}} objects — are
// rewritten to the canonical {type, content} form at decode time.
type Prompt struct {
	Text  string
	Parts []PromptPart
}

// IsText reports whether the prompt is a plain string.
func (p *Prompt) IsText() bool {
	return p.Parts == nil
}

// UnmarshalJSON accepts a string prompt or a list of parts in any of the
// supported encodings.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		p.Text = text
		p.Parts = nil
		return nil
	}

	var rawParts []json.RawMessage
	if err := json.Unmarshal(data, &rawParts); err != nil {
		return fmt.Errorf("prompt must be a string or a list of parts")
	}
	parts := make([]PromptPart, 0, len(rawParts))
	for i, raw := range rawParts {
		part, err := decodePromptPart(raw)
		if err != nil {
			return fmt.Errorf("prompt part %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	p.Text = ""
	p.Parts = parts
	return nil
}

// MarshalJSON renders the canonical form: a bare string for text prompts,
// a list of {type, content} parts otherwise.
func (p Prompt) MarshalJSON() ([]byte, error) {
	if p.IsText() {
		return json.Marshal(p.Text)
	}
	return json.Marshal(p.Parts)
}

func decodePromptPart(raw json.RawMessage) (PromptPart, error) {
	// Legacy pair form: ["text", "..."] / ["image_url", "https://..."].
	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 {
			return PromptPart{}, fmt.Errorf("pair form must have exactly 2 elements, got %d", len(pair))
		}
		return normalizePart(pair[0], pair[1])
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return PromptPart{}, fmt.Errorf("unsupported part encoding")
	}
	typ, _ := obj["type"].(string)
	if typ == "" {
		return PromptPart{}, fmt.Errorf("part object missing type")
	}

	// Canonical form.
	if content, ok := obj["content"].(string); ok {
		return normalizePart(typ, content)
	}
	// Provider-shaped text part: {"type": "text", "text": "..."}.
	if text, ok := obj["text"].(string); ok && typ == PromptPartText {
		return normalizePart(typ, text)
	}
	// Provider-shaped image part: {"type": "image_url", "image_url": {"url": "..."}}.
	if typ == PromptPartImageURL {
		if imageObj, ok := obj["image_url"].(map[string]any); ok {
			if url, ok := imageObj["url"].(string); ok {
				return normalizePart(typ, url)
			}
		}
		if url, ok := obj["image_url"].(string); ok {
			return normalizePart(typ, url)
		}
	}
	return PromptPart{}, fmt.Errorf("part of type %q has no content", typ)
}

func normalizePart(typ, content string) (PromptPart, error) {
	switch typ {
	case PromptPartText, PromptPartImageURL:
		return PromptPart{Type: typ, Content: content}, nil
	default:
		return PromptPart{}, fmt.Errorf("unsupported part type %q", typ)
	}
}
