package config

import (
	"fmt"
	"strings"
)

// ToolNameSeparator joins a tool server name and a tool name into a qualified tool name.
// Server names must not contain it.
const ToolNameSeparator = "__"

// Validate checks config values for correctness.
// Returns an error listing every invalid value.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if c.Server.RequestTimeoutMs < 1 {
		errs = append(errs, "server.request_timeout_ms must be >= 1")
	}
	if c.Server.ShutdownTimeoutMs < 1 {
		errs = append(errs, "server.shutdown_timeout_ms must be >= 1")
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	// Model
	if c.Model.Name == "" {
		errs = append(errs, "model.name must not be empty")
	}
	if c.Model.MaxOutputTokens < 1 {
		errs = append(errs, "model.max_output_tokens must be >= 1")
	}

	// Loop
	if c.Loop.MaxIterations < 1 {
		errs = append(errs, "loop.max_iterations must be >= 1")
	}
	if c.Loop.ProgressBuffer < 1 {
		errs = append(errs, "loop.progress_buffer must be >= 1")
	}
	if c.Loop.FallbackText == "" {
		errs = append(errs, "loop.fallback_text must not be empty")
	}

	// Tool servers
	if c.ToolServers.ConnectTimeoutMs < 1 {
		errs = append(errs, "tool_servers.connect_timeout_ms must be >= 1")
	}
	seen := make(map[string]bool, len(c.ToolServers.Servers))
	for i, s := range c.ToolServers.Servers {
		prefix := fmt.Sprintf("tool_servers.servers[%d]", i)
		if s.Name == "" {
			errs = append(errs, prefix+".name must not be empty")
		}
		if strings.Contains(s.Name, ToolNameSeparator) {
			errs = append(errs, fmt.Sprintf("%s.name %q must not contain %q", prefix, s.Name, ToolNameSeparator))
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, s.Name))
		}
		seen[s.Name] = true

		switch s.Transport {
		case "", "stdio":
			if s.Command == "" {
				errs = append(errs, prefix+".command must not be empty for stdio transport")
			}
		case "http":
			if s.URL == "" {
				errs = append(errs, prefix+".url must not be empty for http transport")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.transport %q must be stdio or http", prefix, s.Transport))
		}
	}

	// Uploads
	if c.Uploads.Dir == "" {
		errs = append(errs, "uploads.dir must not be empty")
	}
	if c.Uploads.MaxFileSize < 1 {
		errs = append(errs, "uploads.max_file_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
