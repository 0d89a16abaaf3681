// Package config holds the typed batch-run configuration: defaults,
// YAML file overlay, environment overlay, and a single validation
// pass. Precedence is defaults < file < environment < flags, with
// flags applied by the CLI after Load.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sevigo/lmbatch/budget"
)

// DefaultPath is consulted when no config file is named explicitly.
const DefaultPath = "config.yaml"

// Supported backend names.
const (
	BackendLMStudio = "lmstudio"
	BackendOllama   = "ollama"
	BackendGemini   = "gemini"
)

// ErrInvalid wraps all validation failures.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete batch-run configuration.
type Config struct {
	Server       Server         `yaml:"server"`
	Processing   Processing     `yaml:"processing"`
	Context      Context        `yaml:"context_handling"`
	ModelPresets map[string]int `yaml:"model_presets"`
	Output       Output         `yaml:"output"`
}

// Server configures the completion backend connection.
type Server struct {
	URL               string  `yaml:"server_url"`
	Backend           string  `yaml:"backend"`
	Model             string  `yaml:"model"`
	TimeoutSeconds    int     `yaml:"timeout"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryDelaySeconds float64 `yaml:"retry_delay"`
}

// Timeout returns the request timeout as a duration.
func (s Server) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// RetryDelay returns the backoff base as a duration.
func (s Server) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds * float64(time.Second))
}

// Processing configures generation and dispatch.
type Processing struct {
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	Concurrency      int     `yaml:"concurrent_requests"`
	MaxContextLength int     `yaml:"max_context_length"`
}

// Context configures how oversized inputs are handled.
type Context struct {
	Strategy         string `yaml:"strategy"`
	AutoDetect       bool   `yaml:"auto_detect"`
	SafetyMargin     int    `yaml:"safety_margin"`
	OverlapTokens    int    `yaml:"overlap_tokens"`
	WarnOnTruncation bool   `yaml:"warn_on_truncation"`
}

// Output configures where and how results are written.
type Output struct {
	Directory       string `yaml:"directory"`
	Overwrite       bool   `yaml:"overwrite"`
	IncludeMetadata bool   `yaml:"include_metadata"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			URL:               "http://localhost:1234",
			Backend:           BackendLMStudio,
			Model:             "gpt-oss-20b",
			TimeoutSeconds:    30,
			RetryAttempts:     3,
			RetryDelaySeconds: 1.0,
		},
		Processing: Processing{
			Temperature:      0.1,
			MaxTokens:        32000,
			Concurrency:      3,
			MaxContextLength: 16384,
		},
		Context: Context{
			Strategy:         string(budget.StrategyForce),
			AutoDetect:       true,
			SafetyMargin:     500,
			OverlapTokens:    300,
			WarnOnTruncation: true,
		},
		ModelPresets: map[string]int{
			"gpt-oss-20b":               16384,
			"openai/gpt-oss-20b":        16384,
			"gpt-oss-120b":              16384,
			"openai/gpt-oss-120b":       16384,
			"llama-3.3-70b":             32768,
			"meta/llama-3.3-70b":        32768,
			"qwen2.5-72b-instruct":      32768,
			"qwen/qwen2.5-72b-instruct": 32768,
			"default":                   16384,
		},
		Output: Output{
			Directory:       "output",
			Overwrite:       false,
			IncludeMetadata: true,
		},
	}
}

// Load builds a configuration from the defaults overlaid with the YAML
// file at path and then the environment. An empty path means
// DefaultPath, which may be absent; a path named explicitly must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No config.yaml is fine, defaults apply.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays LMBATCH_* environment variables.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("LMBATCH_SERVER_URL"); ok {
		c.Server.URL = v
	}
	if v, ok := os.LookupEnv("LMBATCH_MODEL"); ok {
		c.Server.Model = v
	}
	if v, ok := os.LookupEnv("LMBATCH_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LMBATCH_TIMEOUT %q: %w", v, err)
		}
		c.Server.TimeoutSeconds = n
	}
	if v, ok := os.LookupEnv("LMBATCH_TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LMBATCH_TEMPERATURE %q: %w", v, err)
		}
		c.Processing.Temperature = f
	}
	if v, ok := os.LookupEnv("LMBATCH_MAX_TOKENS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LMBATCH_MAX_TOKENS %q: %w", v, err)
		}
		c.Processing.MaxTokens = n
	}
	if v, ok := os.LookupEnv("LMBATCH_OUTPUT_DIR"); ok {
		c.Output.Directory = v
	}
	return nil
}

// Validate checks the whole configuration once and reports every
// problem, not just the first.
func (c *Config) Validate() error {
	var problems []error

	if c.Server.URL == "" {
		problems = append(problems, errors.New("server URL must not be empty"))
	} else if _, err := url.Parse(c.Server.URL); err != nil {
		problems = append(problems, fmt.Errorf("server URL %q is not a valid URL: %w", c.Server.URL, err))
	}

	switch c.Server.Backend {
	case BackendLMStudio, BackendOllama, BackendGemini:
	default:
		problems = append(problems, fmt.Errorf("unknown backend %q (want %s, %s, or %s)",
			c.Server.Backend, BackendLMStudio, BackendOllama, BackendGemini))
	}

	if c.Server.TimeoutSeconds <= 0 {
		problems = append(problems, fmt.Errorf("timeout must be positive, got %d", c.Server.TimeoutSeconds))
	}
	if c.Server.RetryAttempts < 1 {
		problems = append(problems, fmt.Errorf("retry attempts must be at least 1, got %d", c.Server.RetryAttempts))
	}
	if c.Server.RetryDelaySeconds < 0 {
		problems = append(problems, fmt.Errorf("retry delay must not be negative, got %g", c.Server.RetryDelaySeconds))
	}

	if c.Processing.Temperature < 0 || c.Processing.Temperature > 2 {
		problems = append(problems, fmt.Errorf("temperature must be between 0 and 2, got %g", c.Processing.Temperature))
	}
	if c.Processing.MaxTokens <= 0 {
		problems = append(problems, fmt.Errorf("max tokens must be positive, got %d", c.Processing.MaxTokens))
	}
	if c.Processing.Concurrency < 1 {
		problems = append(problems, fmt.Errorf("concurrency must be at least 1, got %d", c.Processing.Concurrency))
	}
	if c.Processing.MaxContextLength <= 0 {
		problems = append(problems, fmt.Errorf("max context length must be positive, got %d", c.Processing.MaxContextLength))
	}

	if _, err := budget.ParseStrategy(c.Context.Strategy); err != nil {
		problems = append(problems, err)
	}
	if c.Context.SafetyMargin < 0 {
		problems = append(problems, fmt.Errorf("safety margin must not be negative, got %d", c.Context.SafetyMargin))
	}
	if c.Context.OverlapTokens < 0 {
		problems = append(problems, fmt.Errorf("overlap tokens must not be negative, got %d", c.Context.OverlapTokens))
	}

	if c.Output.Directory == "" {
		problems = append(problems, errors.New("output directory must not be empty"))
	}
	if _, ok := c.ModelPresets["default"]; !ok {
		problems = append(problems, errors.New(`model presets must include a "default" entry`))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(problems...))
	}
	return nil
}

// ContextLengthFor resolves the context window for a model name: exact
// preset match, then the name without its provider prefix, then the
// first preset contained in the name (alphabetical for determinism),
// then the default.
func (c *Config) ContextLengthFor(model string) int {
	if length, ok := c.ModelPresets[model]; ok {
		return length
	}

	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		if length, ok := c.ModelPresets[model[idx+1:]]; ok {
			return length
		}
	}

	names := make([]string, 0, len(c.ModelPresets))
	for name := range c.ModelPresets {
		if name != "default" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(model, name) {
			return c.ModelPresets[name]
		}
	}

	return c.ModelPresets["default"]
}
