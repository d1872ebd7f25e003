package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration of the assistant.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Assistant AssistantConfig           `json:"assistant"`
	Providers map[string]ProviderConfig `json:"providers"`
	Commerce  CommerceConfig            `json:"commerce"`
	Catalog   CatalogConfig             `json:"catalog"`
	Channels  ChannelsConfig            `json:"channels"`
	Audit     AuditConfig               `json:"audit"`
	Metrics   MetricsConfig             `json:"metrics"`
	Smoke     SmokeConfig               `json:"smoke"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	LogFile               string   `json:"logFile,omitempty"`
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"`
	ProviderRetries       int      `json:"providerRetries"` // transport retries inside a provider call, 0 = none
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`
	RateLimitPerMinute    int      `json:"rateLimitPerMinute"` // per sender, 0 = disabled
	RateBurst             int      `json:"rateBurst"`
}

// AssistantConfig tunes the turn pipeline.
type AssistantConfig struct {
	Greeting           string  `json:"greeting,omitempty"`
	Diagnostics        bool    `json:"diagnostics"`
	ClassifierProvider string  `json:"classifierProvider,omitempty"` // empty = default provider
	CompletionProvider string  `json:"completionProvider,omitempty"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"maxTokens"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Mode         string `json:"mode,omitempty"` // "openai" | "azure" | "ollama" | "gemini"
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	APIVersion   string `json:"apiVersion,omitempty"` // azure only
	Deployment   string `json:"deployment,omitempty"` // azure only
}

type CommerceConfig struct {
	BaseURL        string `json:"baseURL"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty"` // empty = built-in catalog
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
}

type CLIConfig struct {
	Enabled bool   `json:"enabled"`
	User    string `json:"user,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// WebhookConfig configures the activity endpoint.
type WebhookConfig struct {
	Enabled             bool   `json:"enabled"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	Path                string `json:"path"`
	Secret              string `json:"secret,omitempty"`       // HMAC-SHA256 key for X-Signature-256
	ServiceToken        string `json:"serviceToken,omitempty"` // bearer token for replies to serviceUrl
	ReplyTimeoutSeconds int    `json:"replyTimeoutSeconds"`
}

type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SmokeConfig drives the browser cart check.
type SmokeConfig struct {
	URL            string `json:"url"`
	ProxyServer    string `json:"proxyServer,omitempty"`
	Headless       bool   `json:"headless"`
	ExpectedBreeds int    `json:"expectedBreeds"`
	Breed          string `json:"breed"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// DefaultConfigDir returns ~/.petassist.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".petassist"
	}
	return filepath.Join(home, ".petassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. References with
// neither a value nor a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var providerModes = map[string]bool{"openai": true, "azure": true, "ollama": true, "gemini": true}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.ProviderRetries < 0 || cfg.General.ProviderRetries > 5 {
		errs = append(errs, "general.providerRetries must be between 0 and 5")
	}
	if cfg.General.RateLimitPerMinute < 0 {
		errs = append(errs, "general.rateLimitPerMinute must be >= 0")
	}
	if cfg.General.RateLimitPerMinute > 0 && cfg.General.RateBurst < 1 {
		errs = append(errs, "general.rateBurst must be >= 1 when rate limiting is enabled")
	}

	if cfg.Assistant.Temperature < 0 || cfg.Assistant.Temperature > 2 {
		errs = append(errs, "assistant.temperature must be between 0 and 2")
	}
	if cfg.Assistant.MaxTokens < 1 {
		errs = append(errs, "assistant.maxTokens must be >= 1")
	}
	for _, ref := range []struct{ key, name string }{
		{"general.defaultProvider", cfg.General.DefaultProvider},
		{"assistant.classifierProvider", cfg.Assistant.ClassifierProvider},
		{"assistant.completionProvider", cfg.Assistant.CompletionProvider},
	} {
		if ref.name == "" {
			continue
		}
		if _, ok := cfg.Providers[ref.name]; !ok {
			errs = append(errs, fmt.Sprintf("%s references unknown provider: %s", ref.key, ref.name))
		}
	}
	for _, name := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", name))
		}
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		mode := pc.ModeOrName(name)
		if !providerModes[mode] {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown mode %q", name, mode))
			continue
		}
		if mode == "azure" && (pc.APIBase == "" || pc.Deployment == "") {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase and deployment are required for azure", name))
		}
	}

	if cfg.Commerce.BaseURL == "" {
		errs = append(errs, "commerce.baseURL is required")
	}
	if cfg.Commerce.TimeoutSeconds < 1 {
		errs = append(errs, "commerce.timeoutSeconds must be >= 1")
	}

	wh := cfg.Channels.Webhook
	if wh.Port < 0 || wh.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if wh.Enabled && !strings.HasPrefix(wh.Path, "/") {
		errs = append(errs, "channels.webhook.path must start with /")
	}
	if wh.ReplyTimeoutSeconds < 1 {
		errs = append(errs, "channels.webhook.replyTimeoutSeconds must be >= 1")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}
	if cfg.Smoke.ExpectedBreeds < 0 {
		errs = append(errs, "smoke.expectedBreeds must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ModeOrName returns the configured mode, falling back to the provider's
// entry name so {"ollama": {...}} needs no explicit mode.
func (pc ProviderConfig) ModeOrName(name string) string {
	if pc.Mode != "" {
		return strings.ToLower(pc.Mode)
	}
	return strings.ToLower(name)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
