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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TemplateKeyError reports a placeholder referencing a missing input.
type TemplateKeyError struct {
	Key string
}

func (e *TemplateKeyError) Error() string {
	return fmt.Sprintf("missing key for template: '%s'", e.Key)
}

// fillTemplate substitutes {name} placeholders with values from vars.
// Doubled braces escape literal braces. A placeholder naming a missing key
// fails with TemplateKeyError.
func fillTemplate(tmpl string, vars map[string]any) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unclosed placeholder in template")
			}
			key := tmpl[i+1 : i+end]
			v, ok := vars[key]
			if !ok {
				return "", &TemplateKeyError{Key: key}
			}
			b.WriteString(stringify(v))
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			b.WriteByte('}')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// deepFillTemplate applies fillTemplate to every string reachable in a
// JSON-like value, leaving non-strings as-is.
func deepFillTemplate(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return fillTemplate(val, vars)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			filled, err := deepFillTemplate(e, vars)
			if err != nil {
				return nil, err
			}
			out[k] = filled
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			filled, err := deepFillTemplate(e, vars)
			if err != nil {
				return nil, err
			}
			out[i] = filled
		}
		return out, nil
	default:
		return v, nil
	}
}

// stringify renders a value the way a template author expects: bare strings
// and clean integers, JSON for composites.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
