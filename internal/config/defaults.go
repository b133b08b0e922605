package config

// Config holds all application configuration values.
// Defaults are set in DefaultConfig() and can be overridden via the YAML config file
// and then by environment variables.
// NOTE: Values in config files override defaults, including explicit zero values.
// Missing keys are left at their default values.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Model       ModelConfig       `yaml:"model"`
	Loop        LoopConfig        `yaml:"loop"`
	ToolServers ToolServersConfig `yaml:"tool_servers"`
	Uploads     UploadsConfig     `yaml:"uploads"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr"`                // Default: ":3000"
	PublicDir         string `yaml:"public_dir"`          // Default: "public"
	RequestTimeoutMs  int    `yaml:"request_timeout_ms"`  // Default: 120000 (2 minutes)
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"` // Default: 10000
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error. Default: "info"
	Format string `yaml:"format"` // text or json. Default: "text"
}

type ModelConfig struct {
	Name             string `yaml:"name"`               // Default: "gemini-2.5-flash"
	APIKey           string `yaml:"api_key"`            // Usually supplied via GEMINI_API_KEY
	MaxOutputTokens  int    `yaml:"max_output_tokens"`  // Default: 8096
	SystemPrompt     string `yaml:"system_prompt"`      // Empty uses the built-in prompt
	SystemPromptFile string `yaml:"system_prompt_file"` // Read at startup when set
}

type LoopConfig struct {
	MaxIterations     int    `yaml:"max_iterations"`      // Default: 10
	ParallelToolCalls bool   `yaml:"parallel_tool_calls"` // Default: false
	ProgressBuffer    int    `yaml:"progress_buffer"`     // Default: 32
	FallbackText      string `yaml:"fallback_text"`       // Default: "Unable to generate response"
}

type ToolServersConfig struct {
	ConnectTimeoutMs int                `yaml:"connect_timeout_ms"` // Default: 5000
	Servers          []ToolServerConfig `yaml:"servers"`
}

// ToolServerConfig describes one MCP tool server.
type ToolServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio (default) or http
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Disabled  bool              `yaml:"disabled"`
}

type UploadsConfig struct {
	Dir          string   `yaml:"dir"`           // Default: "uploads"
	MaxFileSize  int64    `yaml:"max_file_size"` // Default: 50 * 1024 * 1024 (50MB)
	AllowedTypes []string `yaml:"allowed_types"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			PublicDir:         "public",
			RequestTimeoutMs:  120000,
			ShutdownTimeoutMs: 10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Model: ModelConfig{
			Name:            "gemini-2.5-flash",
			MaxOutputTokens: 8096,
		},
		Loop: LoopConfig{
			MaxIterations:  10,
			ProgressBuffer: 32,
			FallbackText:   "Unable to generate response",
		},
		ToolServers: ToolServersConfig{
			ConnectTimeoutMs: 5000,
			Servers:          []ToolServerConfig{},
		},
		Uploads: UploadsConfig{
			Dir:         "uploads",
			MaxFileSize: 50 * 1024 * 1024,
			AllowedTypes: []string{
				"image/jpeg",
				"image/png",
				"image/gif",
				"image/webp",
				"application/pdf",
				"text/plain",
				"text/markdown",
			},
		},
	}
}
