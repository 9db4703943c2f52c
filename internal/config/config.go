// Package config builds and validates the gateway's configuration: the
// model table with its fallback graph, functions, metrics, tools, and
// evaluations. Construction is a one-shot sequential pipeline; the resulting
// Config is read-mostly for the lifetime of a config generation and is
// replaced wholesale on reload, never mutated field-by-field under load.
package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrUnknownFunction is returned by GetFunction for names with no entry.
var ErrUnknownFunction = errors.New("unknown function")

// FunctionConfig is a fully resolved function: schemas compiled, templates
// loaded.
type FunctionConfig struct {
	Name            string
	Type            FunctionType
	Variants        map[string]*VariantConfig
	Tools           []string
	SystemSchema    *jsonschema.Schema
	UserSchema      *jsonschema.Schema
	AssistantSchema *jsonschema.Schema
	OutputSchema    *jsonschema.Schema
}

// VariantConfig is a resolved function variant.
type VariantConfig struct {
	Name              string
	Type              string
	Model             string
	Weight            float64
	SystemTemplate    *Template
	UserTemplate      *Template
	AssistantTemplate *Template
}

// ToolConfig is a resolved tool with its compiled parameter schema.
type ToolConfig struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Strict      bool
}

// Config is the validated aggregate handed to the serving layer. The
// function and metric maps take the write lock only during the one-time
// evaluation-function injection; everything else is read access.
type Config struct {
	Gateway       GatewayConfig
	ObjectStorage ObjectStorageConfig
	ProviderTypes map[string]ProviderTypeDefaults
	APIKeys       map[string]string
	Evaluations   map[string]EvaluationConfig
	Templates     map[string]Template

	table *ModelTable

	mu        sync.RWMutex
	functions map[string]*FunctionConfig
	metrics   map[string]MetricConfig
	tools     map[string]*ToolConfig
}

// Models returns the concurrently readable model table.
func (c *Config) Models() *ModelTable { return c.table }

// GetFunction returns the named function or ErrUnknownFunction.
func (c *Config) GetFunction(name string) (*FunctionConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return fn, nil
}

// GetMetric returns the named metric config.
func (c *Config) GetMetric(name string) (MetricConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[name]
	if !ok {
		return MetricConfig{}, fmt.Errorf("unknown metric %q", name)
	}
	return m, nil
}

// GetTool returns the named tool config.
func (c *Config) GetTool(name string) (*ToolConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t, nil
}

// FunctionNames returns the names of all functions, including injected ones.
func (c *Config) FunctionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.functions)
}

// injectEvaluationFunctions synthesizes the functions and metrics backing
// each evaluation's evaluators. Runs once after validation, under the write
// lock; synthetic entries live in the reserved namespace and never collide
// with user names. Judge models are materialized into the table so the
// request path can resolve them.
func (c *Config) injectEvaluationFunctions() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, evalName := range sortedKeys(c.Evaluations) {
		eval := c.Evaluations[evalName]
		for _, evaluatorName := range sortedKeys(eval.Evaluators) {
			evaluator := eval.Evaluators[evaluatorName]
			metricName := ReservedPrefix + "evaluation::" + evalName + "::" + evaluatorName

			switch evaluator.Type {
			case "llm_judge":
				if err := c.table.Materialize(evaluator.Model); err != nil {
					return newError(
						fmt.Sprintf("evaluations.%s.evaluators.%s.model", evalName, evaluatorName),
						"judge model %q not found", evaluator.Model)
				}
				fnName := ReservedPrefix + "llm_judge::" + evalName + "::" + evaluatorName
				c.functions[fnName] = &FunctionConfig{
					Name: fnName,
					Type: FunctionTypeJSON,
					Variants: map[string]*VariantConfig{
						"judge": {
							Name:   "judge",
							Type:   "chat_completion",
							Model:  evaluator.Model,
							Weight: 1,
						},
					},
				}
				c.metrics[metricName] = MetricConfig{Type: "float", Optimize: "max", Level: "inference"}
			case "exact_match":
				c.metrics[metricName] = MetricConfig{Type: "boolean", Optimize: "max", Level: "inference"}
			default:
				return newError(
					fmt.Sprintf("evaluations.%s.evaluators.%s.type", evalName, evaluatorName),
					"unknown evaluator type %q", evaluator.Type)
			}
		}
	}
	return nil
}
