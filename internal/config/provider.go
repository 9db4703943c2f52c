package config

import "fmt"

// ProviderKind identifies a model provider implementation. The set is closed:
// converting embedding provider configs and materializing shorthand model
// references both switch exhaustively over it.
type ProviderKind string

const (
	ProviderOpenAI         ProviderKind = "openai"
	ProviderAnthropic      ProviderKind = "anthropic"
	ProviderAzure          ProviderKind = "azure"
	ProviderAWSBedrock     ProviderKind = "aws_bedrock"
	ProviderGoogleAIStudio ProviderKind = "google_ai_studio"
	ProviderMistral        ProviderKind = "mistral"
	ProviderTogether       ProviderKind = "together"
	ProviderVLLM           ProviderKind = "vllm"
	ProviderDummy          ProviderKind = "dummy"
)

var providerKinds = map[ProviderKind]struct{}{
	ProviderOpenAI:         {},
	ProviderAnthropic:      {},
	ProviderAzure:          {},
	ProviderAWSBedrock:     {},
	ProviderGoogleAIStudio: {},
	ProviderMistral:        {},
	ProviderTogether:       {},
	ProviderVLLM:           {},
	ProviderDummy:          {},
}

// Valid reports whether k names a known provider kind.
func (k ProviderKind) Valid() bool {
	_, ok := providerKinds[k]
	return ok
}

// requiresCredential reports whether providers of this kind need an API key
// at load time. Bedrock uses ambient AWS credentials; vllm and dummy need
// none.
func (k ProviderKind) requiresCredential() bool {
	switch k {
	case ProviderAWSBedrock, ProviderVLLM, ProviderDummy:
		return false
	default:
		return true
	}
}

// defaultAPIKeyEnv is the conventional environment variable consulted when
// neither the provider config nor the provider_types section names one.
func (k ProviderKind) defaultAPIKeyEnv() string {
	switch k {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderAzure:
		return "AZURE_OPENAI_API_KEY"
	case ProviderGoogleAIStudio:
		return "GOOGLE_AI_STUDIO_API_KEY"
	case ProviderMistral:
		return "MISTRAL_API_KEY"
	case ProviderTogether:
		return "TOGETHER_API_KEY"
	default:
		return ""
	}
}

// ProviderConfig is a single provider entry under a model. Type selects the
// variant; the remaining fields are interpreted per kind.
type ProviderConfig struct {
	Type       ProviderKind `toml:"type"`
	ModelName  string       `toml:"model_name"`
	APIKeyEnv  string       `toml:"api_key_env"`
	BaseURL    string       `toml:"base_url"`
	Region     string       `toml:"region"`
	Deployment string       `toml:"deployment"`
}

// EmbeddingProviderKind is the (smaller) closed union of provider kinds that
// legacy embedding_models entries may use.
type EmbeddingProviderKind string

const (
	EmbeddingProviderOpenAI EmbeddingProviderKind = "openai"
	EmbeddingProviderAzure  EmbeddingProviderKind = "azure"
	EmbeddingProviderVLLM   EmbeddingProviderKind = "vllm"
	EmbeddingProviderDummy  EmbeddingProviderKind = "dummy"
)

// EmbeddingProviderConfig is a provider entry under an embedding_models
// declaration.
type EmbeddingProviderConfig struct {
	Type       EmbeddingProviderKind `toml:"type"`
	ModelName  string                `toml:"model_name"`
	APIKeyEnv  string                `toml:"api_key_env"`
	BaseURL    string                `toml:"base_url"`
	Deployment string                `toml:"deployment"`
}

// toProviderConfig converts an embedding provider entry into the general
// provider union. The mapping is total: a new embedding provider kind does
// not compile until it is handled here.
func (p EmbeddingProviderConfig) toProviderConfig() (ProviderConfig, error) {
	var kind ProviderKind
	switch p.Type {
	case EmbeddingProviderOpenAI:
		kind = ProviderOpenAI
	case EmbeddingProviderAzure:
		kind = ProviderAzure
	case EmbeddingProviderVLLM:
		kind = ProviderVLLM
	case EmbeddingProviderDummy:
		kind = ProviderDummy
	default:
		return ProviderConfig{}, fmt.Errorf("unknown embedding provider type %q", p.Type)
	}
	return ProviderConfig{
		Type:       kind,
		ModelName:  p.ModelName,
		APIKeyEnv:  p.APIKeyEnv,
		BaseURL:    p.BaseURL,
		Deployment: p.Deployment,
	}, nil
}
