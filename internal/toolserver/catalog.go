package toolserver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ctbritt/dark-sun-assistant/internal/tool"
)

// Separator joins a server name and a tool name.
const Separator = "__"

// MaxQualifiedNameLen is the longest function name the model API accepts.
const MaxQualifiedNameLen = 64

// validFunctionName matches the model API's function-name charset.
var validFunctionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:-]*$`)

// ValidQualifiedName reports whether name can be offered to the model as a function name.
func ValidQualifiedName(name string) bool {
	return len(name) <= MaxQualifiedNameLen && validFunctionName.MatchString(name)
}

// QualifiedName returns "<server>__<tool>".
func QualifiedName(server, toolName string) string {
	return server + Separator + toolName
}

// SplitQualifiedName splits on the first separator. Tool names may themselves contain it.
func SplitQualifiedName(qualified string) (server, toolName string, ok bool) {
	server, toolName, ok = strings.Cut(qualified, Separator)
	if !ok || server == "" || toolName == "" {
		return "", "", false
	}
	return server, toolName, true
}

// toolSource is the part of the Registry the catalog reads.
type toolSource interface {
	Status() []ServerStatus
	ListTools(ctx context.Context, name string) ([]Tool, error)
}

// Catalog aggregates the tools of all connected servers into one namespaced list.
type Catalog struct {
	source toolSource
	logger *slog.Logger
}

// NewCatalog returns a Catalog over source.
func NewCatalog(source toolSource, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{source: source, logger: logger}
}

// Build lists tools from every connected server, in configuration order.
// Servers that fail to list are skipped for this build; the result may be empty.
func (c *Catalog) Build(ctx context.Context) []tool.Declaration {
	var decls []tool.Declaration
	for _, st := range c.source.Status() {
		if st.State != StateConnected {
			continue
		}

		tools, err := c.source.ListTools(ctx, st.Name)
		if err != nil {
			c.logger.Warn("skipping tool server in catalog", "server", st.Name, "err", err)
			continue
		}

		for _, t := range tools {
			name := QualifiedName(st.Name, t.Name)
			if !ValidQualifiedName(name) {
				c.logger.Warn("skipping tool with unusable name", "server", st.Name, "tool", t.Name, "qualified", name)
				continue
			}
			params, err := convertSchema(t.InputSchema)
			if err != nil {
				c.logger.Warn("dropping tool input schema", "server", st.Name, "tool", t.Name, "err", err)
				params = nil
			}
			description := t.Description
			if description == "" {
				description = fmt.Sprintf("%s tool from %s", t.Name, st.Name)
			}
			decls = append(decls, tool.Declaration{
				Name:        name,
				Description: description,
				Parameters:  params,
			})
		}
	}
	c.logger.Debug("tool catalog built", "tools", len(decls))
	return decls
}

// convertSchema decodes a JSON Schema object into tool.Schema. Objects without
// properties yield nil because the model API rejects empty object schemas.
func convertSchema(raw map[string]any) (*tool.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	normalized, _ := normalizeSchema(raw).(map[string]any)

	var schema tool.Schema
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &schema,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(normalized); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	if schema.Type == "" {
		schema.Type = tool.TypeObject
	}
	if schema.Type == tool.TypeObject && len(schema.Properties) == 0 {
		return nil, nil
	}
	return &schema, nil
}

// normalizeSchema rewrites the JSON Schema constructs tool.Schema cannot hold:
// type arrays, anyOf/oneOf unions and tuple items.
func normalizeSchema(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	if types, ok := out["type"].([]any); ok {
		out["type"] = ""
		for _, t := range types {
			if s, _ := t.(string); s == "null" {
				out["nullable"] = true
			} else if out["type"] == "" {
				out["type"] = s
			}
		}
	}

	if _, hasType := out["type"]; !hasType {
		for _, key := range []string{"anyOf", "oneOf"} {
			variants, _ := out[key].([]any)
			for _, v := range variants {
				vm, _ := v.(map[string]any)
				if t, _ := vm["type"].(string); t != "" && t != "null" {
					out["type"] = t
					break
				}
			}
		}
	}

	if items, ok := out["items"].([]any); ok {
		if len(items) > 0 {
			out["items"] = items[0]
		} else {
			delete(out, "items")
		}
	}
	if items, ok := out["items"]; ok {
		out["items"] = normalizeSchema(items)
	}

	if props, ok := out["properties"].(map[string]any); ok {
		normalized := make(map[string]any, len(props))
		for name, p := range props {
			normalized[name] = normalizeSchema(p)
		}
		out["properties"] = normalized
	}

	return out
}
