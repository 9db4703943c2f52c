package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ReservedPrefix is the namespace reserved for gateway-internal synthetic
// entities (evaluation-generated functions and metrics). User-supplied
// function, metric, model, tool, variant, and provider names must not use it.
const ReservedPrefix = "modelgate::"

// Capability is an endpoint a model can serve.
type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityEmbedding Capability = "embedding"
)

// CapabilitySet is the set of capabilities a model supports.
type CapabilitySet map[Capability]struct{}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func parseCapabilities(endpoints []string) (CapabilitySet, error) {
	set := make(CapabilitySet, len(endpoints))
	for _, e := range endpoints {
		c := Capability(e)
		switch c {
		case CapabilityChat, CapabilityEmbedding:
			set[c] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown endpoint %q", e)
		}
	}
	return set, nil
}

// ModelDefinition is a fully resolved model entry. Definitions are built
// once at load time (or materialized from a shorthand reference) and are
// not mutated afterwards.
type ModelDefinition struct {
	Name           string
	Routing        []string
	Providers      map[string]ProviderConfig
	Endpoints      CapabilitySet
	FallbackModels []string
	Retry          *RetryConfig
	RateLimits     *RateLimitsConfig
}

// ModelTable maps model names to definitions. The request path takes read
// access; the load/validate phase and shorthand materialization take write
// access.
type ModelTable struct {
	mu     sync.RWMutex
	models map[string]*ModelDefinition
}

// NewModelTable builds the unified table from the models and embedding_models
// sections. Embedding declarations are converted into ModelDefinitions with
// the Embedding capability so the rest of the gateway sees a single
// namespace. A name declared in both sections is a hard error.
func NewModelTable(models map[string]RawModelConfig, embeddings map[string]RawEmbeddingModelConfig) (*ModelTable, error) {
	t := &ModelTable{models: make(map[string]*ModelDefinition, len(models)+len(embeddings))}

	for _, name := range sortedKeys(models) {
		raw := models[name]
		def, err := buildModelDefinition(name, raw)
		if err != nil {
			return nil, err
		}
		t.models[name] = def
	}

	for _, name := range sortedKeys(embeddings) {
		raw := embeddings[name]
		if _, exists := t.models[name]; exists {
			return nil, newError("embedding_models."+name,
				"model %q is declared in both [models] and [embedding_models]", name)
		}
		def, err := buildEmbeddingDefinition(name, raw)
		if err != nil {
			return nil, err
		}
		t.models[name] = def
	}

	return t, nil
}

func buildModelDefinition(name string, raw RawModelConfig) (*ModelDefinition, error) {
	caps, err := parseCapabilities(raw.Endpoints)
	if err != nil {
		return nil, wrapError("models."+name+".endpoints", err)
	}
	if len(caps) == 0 {
		caps = CapabilitySet{CapabilityChat: {}}
	}
	return &ModelDefinition{
		Name:           name,
		Routing:        raw.Routing,
		Providers:      raw.Providers,
		Endpoints:      caps,
		FallbackModels: raw.FallbackModels,
		Retry:          raw.Retry,
		RateLimits:     raw.RateLimits,
	}, nil
}

func buildEmbeddingDefinition(name string, raw RawEmbeddingModelConfig) (*ModelDefinition, error) {
	providers := make(map[string]ProviderConfig, len(raw.Providers))
	for pname, p := range raw.Providers {
		converted, err := p.toProviderConfig()
		if err != nil {
			return nil, wrapError("embedding_models."+name+".providers."+pname, err)
		}
		providers[pname] = converted
	}
	return &ModelDefinition{
		Name:      name,
		Routing:   raw.Routing,
		Providers: providers,
		Endpoints: CapabilitySet{CapabilityEmbedding: {}},
	}, nil
}

// Get returns the definition for name. A shorthand reference of the form
// "provider::model-id" that has no explicit entry is materialized on first
// use as a single-provider chat model.
func (t *ModelTable) Get(name string) (*ModelDefinition, bool) {
	t.mu.RLock()
	def, ok := t.models[name]
	t.mu.RUnlock()
	if ok {
		return def, true
	}

	kind, modelID, ok := splitShorthand(name)
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if def, ok := t.models[name]; ok {
		return def, true
	}
	def = shorthandDefinition(name, kind, modelID)
	t.models[name] = def
	return def, true
}

// Resolvable reports whether name would resolve on the request path: either
// an existing entry or a valid shorthand reference. It never materializes.
func (t *ModelTable) Resolvable(name string) bool {
	t.mu.RLock()
	_, ok := t.models[name]
	t.mu.RUnlock()
	if ok {
		return true
	}
	_, _, ok = splitShorthand(name)
	return ok
}

// Materialize ensures a shorthand reference has an entry in the table,
// returning an error when name is neither present nor valid shorthand.
func (t *ModelTable) Materialize(name string) error {
	if _, ok := t.Get(name); !ok {
		return fmt.Errorf("model %q not found", name)
	}
	return nil
}

// Names returns all model names currently in the table, sorted.
func (t *ModelTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.models))
	for name := range t.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries in the table.
func (t *ModelTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.models)
}

// fallbackEdges returns a snapshot of the fallback adjacency relation.
func (t *ModelTable) fallbackEdges() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	adj := make(map[string][]string, len(t.models))
	for name, def := range t.models {
		if len(def.FallbackModels) > 0 {
			adj[name] = append([]string(nil), def.FallbackModels...)
		}
	}
	return adj
}

func splitShorthand(name string) (ProviderKind, string, bool) {
	prefix, rest, found := strings.Cut(name, "::")
	if !found || rest == "" {
		return "", "", false
	}
	kind := ProviderKind(prefix)
	if !kind.Valid() {
		return "", "", false
	}
	return kind, rest, true
}

func shorthandDefinition(name string, kind ProviderKind, modelID string) *ModelDefinition {
	providerName := string(kind)
	return &ModelDefinition{
		Name:    name,
		Routing: []string{providerName},
		Providers: map[string]ProviderConfig{
			providerName: {Type: kind, ModelName: modelID},
		},
		Endpoints: CapabilitySet{CapabilityChat: {}},
	}
}

// validateModelName enforces the naming rules for declared models: the
// reserved namespace is off limits, and names that parse as shorthand
// references would shadow dynamic addressing.
func validateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return fmt.Errorf("model name %q uses the reserved prefix %q", name, ReservedPrefix)
	}
	if _, _, ok := splitShorthand(name); ok {
		return fmt.Errorf("model name %q is reserved for shorthand provider addressing", name)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
