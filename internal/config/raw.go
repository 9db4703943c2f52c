package config

import "time"

// RawConfigTable is the typed form of the config document, parsed but not
// yet resolved: schema and template paths are still paths, model shorthands
// are still strings. Resolution and validation happen in Load.
type RawConfigTable struct {
	Gateway         GatewayConfig                       `toml:"gateway"`
	Models          map[string]RawModelConfig           `toml:"models"`
	EmbeddingModels map[string]RawEmbeddingModelConfig  `toml:"embedding_models"`
	Functions       map[string]RawFunctionConfig        `toml:"functions"`
	Metrics         map[string]MetricConfig             `toml:"metrics"`
	Tools           map[string]RawToolConfig            `toml:"tools"`
	Evaluations     map[string]EvaluationConfig         `toml:"evaluations"`
	ProviderTypes   map[string]ProviderTypeDefaults     `toml:"provider_types"`
	APIKeys         map[string]string                   `toml:"api_keys"`
	ObjectStorage   ObjectStorageConfig                 `toml:"object_storage"`
}

type GatewayConfig struct {
	BindAddress string            `toml:"bind_address"`
	Debug       bool              `toml:"debug"`
	UsageLimits UsageLimitsConfig `toml:"usage_limits"`
}

// UsageLimitsConfig configures the usage limiter subsystem.
type UsageLimitsConfig struct {
	Enabled      bool          `toml:"enabled"`
	RedisURL     string        `toml:"redis_url"`
	CacheTTL     time.Duration `toml:"cache_ttl"`
	SyncInterval time.Duration `toml:"sync_interval"`
	StoreTimeout time.Duration `toml:"store_timeout"`
	FailOpen     bool          `toml:"fail_open"`
	CacheSize    int           `toml:"cache_size"`
}

type RawModelConfig struct {
	Routing        []string                  `toml:"routing"`
	Providers      map[string]ProviderConfig `toml:"providers"`
	Endpoints      []string                  `toml:"endpoints"`
	FallbackModels []string                  `toml:"fallback_models"`
	Retry          *RetryConfig              `toml:"retry"`
	RateLimits     *RateLimitsConfig         `toml:"rate_limits"`
}

type RawEmbeddingModelConfig struct {
	Routing   []string                           `toml:"routing"`
	Providers map[string]EmbeddingProviderConfig `toml:"providers"`
}

type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	BaseBackoff time.Duration `toml:"base_backoff"`
	MaxBackoff  time.Duration `toml:"max_backoff"`
}

type RateLimitsConfig struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	TokensPerMinute   int `toml:"tokens_per_minute"`
}

// FunctionType selects the function's output contract.
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

type RawFunctionConfig struct {
	Type            FunctionType                 `toml:"type"`
	Variants        map[string]RawVariantConfig  `toml:"variants"`
	Tools           []string                     `toml:"tools"`
	SystemSchema    string                       `toml:"system_schema"`
	UserSchema      string                       `toml:"user_schema"`
	AssistantSchema string                       `toml:"assistant_schema"`
	OutputSchema    string                       `toml:"output_schema"`
}

type RawVariantConfig struct {
	Type              string  `toml:"type"`
	Model             string  `toml:"model"`
	Weight            float64 `toml:"weight"`
	SystemTemplate    string  `toml:"system_template"`
	UserTemplate      string  `toml:"user_template"`
	AssistantTemplate string  `toml:"assistant_template"`
}

type MetricConfig struct {
	Type     string `toml:"type"`     // boolean | float
	Optimize string `toml:"optimize"` // min | max
	Level    string `toml:"level"`    // inference | episode
}

type RawToolConfig struct {
	Description string `toml:"description"`
	Parameters  string `toml:"parameters"` // path to a JSON Schema file
	Strict      bool   `toml:"strict"`
}

type EvaluationConfig struct {
	Type         string                     `toml:"type"` // static
	FunctionName string                     `toml:"function_name"`
	Evaluators   map[string]EvaluatorConfig `toml:"evaluators"`
}

type EvaluatorConfig struct {
	Type  string `toml:"type"` // llm_judge | exact_match
	Model string `toml:"model"`
}

// ProviderTypeDefaults supplies per-kind defaults applied to providers that
// omit the corresponding fields.
type ProviderTypeDefaults struct {
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
}

type ObjectStorageConfig struct {
	Type         string `toml:"type"` // disabled | filesystem | s3_compatible
	Path         string `toml:"path"`
	Endpoint     string `toml:"endpoint"`
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	AccessKeyEnv string `toml:"access_key_env"`
	SecretKeyEnv string `toml:"secret_key_env"`
	UseSSL       bool   `toml:"use_ssl"`
}
