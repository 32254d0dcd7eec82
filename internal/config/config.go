// Package config loads, validates and persists the proxy's configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
	LoopbackHost          = "127.0.0.1"
)

var (
	// DefaultProviderURLs holds the well-known API base for each built-in provider name.
	DefaultProviderURLs = map[string]string{
		"openrouter": "https://openrouter.ai/api/v1/chat/completions",
		"openai":     "https://api.openai.com/v1/chat/completions",
		"anthropic":  "https://api.anthropic.com/v1/messages",
		"deepseek":   "https://api.deepseek.com/chat/completions",
		"groq":       "https://api.groq.com/openai/v1/chat/completions",
		"gemini":     "https://generativelanguage.googleapis.com/v1beta/models",
	}

	// DefaultProviderModels holds the seed model list used when a minimal config is bootstrapped.
	DefaultProviderModels = map[string][]string{
		"openrouter": {
			"anthropic/claude-3.5-sonnet",
			"anthropic/claude-3-opus",
			"openai/gpt-4-turbo",
			"perplexity/llama-3.1-sonar-huge-128k-online",
		},
		"openai": {
			"gpt-4o",
			"gpt-4-turbo",
		},
		"anthropic": {
			"claude-3-5-sonnet-20241022",
			"claude-3-opus-20240229",
			"claude-3-5-haiku-20241022",
		},
		"deepseek": {
			"deepseek-chat",
			"deepseek-reasoner",
		},
		"groq": {
			"llama-3.3-70b-versatile",
		},
		"gemini": {
			"gemini-2.0-flash",
			"gemini-1.5-pro",
		},
	}

	// defaultTransformersByProvider supplies the baseline transformer chain for
	// providers that don't speak the Anthropic dialect natively. Each of these
	// is a single self-contained dialect-crossing transformer (deepseek/groq/
	// openrouter embed the openai dialect logic directly rather than chaining
	// a separate "openai" step ahead of them, which would double-convert the
	// body). Generic transformers like "tooluse" belong BEFORE the dialect
	// transformer in a configured chain, since ResponseIn/TransformStream run
	// in reverse chain order: the dialect transformer (listed last) converts
	// provider-native to Anthropic shape first, and generic transformers
	// listed earlier then see an already-Anthropic-shaped response.
	defaultTransformersByProvider = map[string][]string{
		"openrouter": {"openrouter"},
		"openai":     {"openai"},
		"deepseek":   {"deepseek"},
		"groq":       {"groq"},
		"gemini":     {"gemini"},
	}
)

// TransformerRef names a registered transformer and the options passed to its constructor.
type TransformerRef struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// PerModelSpec overrides the transformer chain for one specific model.
type PerModelSpec struct {
	Use []TransformerRef `json:"use,omitempty" yaml:"use,omitempty"`
}

// TransformerSpec is a provider's transformer chain plus any per-model overrides.
type TransformerSpec struct {
	Use      []TransformerRef        `json:"use,omitempty" yaml:"use,omitempty"`
	PerModel map[string]PerModelSpec `json:"perModel,omitempty" yaml:"per_model,omitempty"`
}

type Provider struct {
	Name           string          `json:"name" yaml:"name"`
	APIBase        string          `json:"api_base_url" yaml:"url,omitempty"`
	APIKey         string          `json:"api_key" yaml:"api_key,omitempty"`
	Models         []string        `json:"models" yaml:"models,omitempty"`
	ModelWhitelist []string        `json:"model_whitelist,omitempty" yaml:"model_whitelist,omitempty"`
	DefaultModels  []string        `json:"default_models,omitempty" yaml:"default_models,omitempty"`
	// RateLimit caps outbound requests/sec to this provider; zero means unlimited.
	RateLimit      float64         `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Transformer    TransformerSpec `json:"transformer,omitempty" yaml:"transformer,omitempty"`
}

type RouterConfig struct {
	Default     string `json:"default" yaml:"default,omitempty"`
	Think       string `json:"think,omitempty" yaml:"think,omitempty"`
	Background  string `json:"background,omitempty" yaml:"background,omitempty"`
	LongContext string `json:"longContext,omitempty" yaml:"long_context,omitempty"`
	WebSearch   string `json:"webSearch,omitempty" yaml:"web_search,omitempty"`
}

// CustomTransformerSpec names a compiled-in custom transformer constructor (see
// internal/transform.RegisterCustom); Path is a lookup key, not a filesystem path.
type CustomTransformerSpec struct {
	Path    string         `json:"path" yaml:"path"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

type Config struct {
	Host               string                  `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port               int                     `json:"PORT,omitempty" yaml:"port,omitempty"`
	SharedSecret       string                  `json:"sharedSecret,omitempty" yaml:"shared_secret,omitempty"`
	OutboundProxy      string                  `json:"outboundProxy,omitempty" yaml:"outbound_proxy,omitempty"`
	Log                bool                    `json:"log,omitempty" yaml:"log,omitempty"`
	Providers          []Provider              `json:"Providers" yaml:"providers"`
	Router             RouterConfig            `json:"Router" yaml:"router,omitempty"`
	CustomTransformers []CustomTransformerSpec `json:"customTransformers,omitempty" yaml:"custom_transformers,omitempty"`
}

type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// createMinimalConfig creates a minimal configuration with all providers using CCO_API_KEY.
func (m *Manager) createMinimalConfig() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Providers: []Provider{
			{Name: "openrouter"},
			{Name: "openai"},
			{Name: "anthropic"},
			{Name: "deepseek"},
			{Name: "groq"},
			{Name: "gemini"},
		},
		Router: RouterConfig{
			Default:     "openrouter,anthropic/claude-3.5-sonnet",
			Think:       "deepseek,deepseek-reasoner",
			Background:  "anthropic,claude-3-5-haiku-20241022",
			LongContext: "anthropic,claude-3-5-sonnet-20241022",
			WebSearch:   "openrouter,perplexity/llama-3.1-sonar-huge-128k-online",
		},
	}
}

func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	ccoAPIKey := os.Getenv("CCO_API_KEY")

	switch {
	case fileExists(m.yamlPath):
		if cfg, err = m.loadYAML(); err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case fileExists(m.jsonPath):
		if cfg, err = m.loadJSON(); err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	case ccoAPIKey != "":
		cfg = m.createMinimalConfig()
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s) and CCO_API_KEY environment variable not set", m.yamlPath, m.jsonPath)
	}

	if err := m.applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}

	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in provider URLs/models and enforces the loopback-only security
// invariant: without a shared secret the proxy must never bind beyond localhost.
func (m *Manager) applyDefaults(cfg *Config) error {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.SharedSecret == "" {
		cfg.Host = LoopbackHost
	}

	for i := range cfg.Providers {
		provider := &cfg.Providers[i]

		if provider.APIBase == "" {
			if defaultURL, exists := DefaultProviderURLs[provider.Name]; exists {
				provider.APIBase = defaultURL
			}
		}

		if len(provider.DefaultModels) == 0 {
			if defaultModels, exists := DefaultProviderModels[provider.Name]; exists {
				provider.DefaultModels = append([]string(nil), defaultModels...)
			}
		}

		if len(provider.Models) == 0 {
			provider.Models = append([]string(nil), provider.DefaultModels...)
		}

		if len(provider.Transformer.Use) == 0 {
			if names, exists := defaultTransformersByProvider[provider.Name]; exists {
				for _, name := range names {
					provider.Transformer.Use = append(provider.Transformer.Use, TransformerRef{Name: name})
				}
			}
		}

		if len(provider.ModelWhitelist) > 0 && len(provider.DefaultModels) > 0 {
			var filtered []string
			for _, model := range provider.DefaultModels {
				if provider.IsModelAllowed(model) {
					filtered = append(filtered, model)
				}
			}
			provider.DefaultModels = filtered
		}
	}

	return nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: LoopbackHost, Port: DefaultPort}
	}
	return cfg
}

// Set atomically replaces the in-memory config, used by the hot-reload watcher.
func (m *Manager) Set(cfg *Config) {
	m.configValue.Store(cfg)
}

func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}

	if err := writeFileAtomic(m.yamlPath, data, 0o644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}

	if err := writeFileAtomic(m.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// writeFileAtomic writes to a temp file in the same directory then renames it into
// place, so a reader (or the hot-reload watcher) never observes a half-written file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (m *Manager) GetPath() string {
	if fileExists(m.yamlPath) {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return fileExists(m.yamlPath) || fileExists(m.jsonPath)
}

func (m *Manager) HasYAML() bool { return fileExists(m.yamlPath) }
func (m *Manager) HasJSON() bool { return fileExists(m.jsonPath) }

// CreateExampleYAML creates an example YAML configuration with all available providers.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		SharedSecret: "your-proxy-shared-secret-here",
		Providers: []Provider{
			{Name: "openrouter", APIKey: "your-openrouter-api-key", ModelWhitelist: []string{"claude", "gpt-4"}},
			{Name: "openai", APIKey: "your-openai-api-key"},
			{Name: "anthropic", APIKey: "your-anthropic-api-key"},
			{Name: "deepseek", APIKey: "your-deepseek-api-key"},
			{Name: "groq", APIKey: "your-groq-api-key"},
			{Name: "gemini", APIKey: "your-gemini-api-key"},
		},
		Router: RouterConfig{
			Default:     "openrouter,anthropic/claude-3.5-sonnet",
			Think:       "deepseek,deepseek-reasoner",
			Background:  "anthropic,claude-3-5-haiku-20241022",
			LongContext: "anthropic,claude-3-5-sonnet-20241022",
			WebSearch:   "openrouter,perplexity/llama-3.1-sonar-huge-128k-online",
		},
	}

	if err := m.applyDefaults(cfg); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}

	return m.SaveAsYAML(cfg)
}

// IsModelAllowed reports whether model is permitted by the provider's whitelist.
// An empty whitelist allows everything.
func (p *Provider) IsModelAllowed(model string) bool {
	if len(p.ModelWhitelist) == 0 {
		return true
	}

	for _, whitelisted := range p.ModelWhitelist {
		if strings.Contains(model, whitelisted) || model == whitelisted {
			return true
		}
	}
	return false
}

// GetAllowedModels returns the subset of DefaultModels permitted by the whitelist.
func (p *Provider) GetAllowedModels() []string {
	if len(p.ModelWhitelist) == 0 {
		return p.DefaultModels
	}

	var allowed []string
	for _, model := range p.DefaultModels {
		if p.IsModelAllowed(model) {
			allowed = append(allowed, model)
		}
	}
	return allowed
}
