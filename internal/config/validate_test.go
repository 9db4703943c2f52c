package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testOpts() LoadOptions {
	return LoadOptions{
		SkipCredentialValidation:    true,
		SkipObjectStoreVerification: true,
	}
}

func buildRaw(t *testing.T, raw RawConfigTable) (*Config, error) {
	t.Helper()
	return build(raw, &ResourceLoader{BasePath: t.TempDir()}, testOpts())
}

func rawWithModels(models map[string]RawModelConfig) RawConfigTable {
	return RawConfigTable{Models: models}
}

func simpleFunction(model string) RawFunctionConfig {
	return RawFunctionConfig{
		Type: FunctionTypeChat,
		Variants: map[string]RawVariantConfig{
			"base": {Type: "chat_completion", Model: model, Weight: 1},
		},
	}
}

func errPath(t *testing.T, err error) string {
	t.Helper()
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	return cfgErr.Path
}

func TestValidateReservedNames(t *testing.T) {
	tests := []struct {
		name     string
		raw      RawConfigTable
		wantPath string
	}{
		{
			name: "reserved metric name",
			raw: RawConfigTable{
				Metrics: map[string]MetricConfig{"comment": {Type: "float"}},
			},
			wantPath: "metrics.comment",
		},
		{
			name: "metric in reserved namespace",
			raw: RawConfigTable{
				Metrics: map[string]MetricConfig{ReservedPrefix + "x": {Type: "float"}},
			},
			wantPath: "metrics." + ReservedPrefix + "x",
		},
		{
			name: "model in reserved namespace",
			raw: rawWithModels(map[string]RawModelConfig{
				ReservedPrefix + "m": chainModel(),
			}),
		},
		{
			name: "function in reserved namespace",
			raw: RawConfigTable{
				Models: map[string]RawModelConfig{"m": chainModel()},
				Functions: map[string]RawFunctionConfig{
					ReservedPrefix + "f": simpleFunction("m"),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRaw(t, tt.raw)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "reserved") {
				t.Errorf("error %q should mention the reservation", err.Error())
			}
			if tt.wantPath != "" {
				if got := errPath(t, err); got != tt.wantPath {
					t.Errorf("path = %q, want %q", got, tt.wantPath)
				}
			}
		})
	}
}

func TestValidateMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric MetricConfig
		errSub string
	}{
		{"unknown type", MetricConfig{Type: "gauge"}, "unknown metric type"},
		{"bad optimize", MetricConfig{Type: "float", Optimize: "sideways"}, "optimize"},
		{"bad level", MetricConfig{Type: "boolean", Level: "galaxy"}, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRaw(t, RawConfigTable{
				Metrics: map[string]MetricConfig{"m": tt.metric},
			})
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("error = %v, want substring %q", err, tt.errSub)
			}
		})
	}

	// Optimize and level are optional.
	if _, err := buildRaw(t, RawConfigTable{
		Metrics: map[string]MetricConfig{"m": {Type: "float"}},
	}); err != nil {
		t.Fatalf("minimal metric should validate: %v", err)
	}
}

func TestValidateRouting(t *testing.T) {
	tests := []struct {
		name   string
		model  RawModelConfig
		errSub string
	}{
		{
			name: "empty routing",
			model: RawModelConfig{
				Providers: map[string]ProviderConfig{"main": {Type: ProviderDummy}},
			},
			errSub: "routing must not be empty",
		},
		{
			name: "duplicate entry",
			model: RawModelConfig{
				Routing:   []string{"main", "main"},
				Providers: map[string]ProviderConfig{"main": {Type: ProviderDummy}},
			},
			errSub: "duplicate routing entry",
		},
		{
			name: "unmatched provider",
			model: RawModelConfig{
				Routing:   []string{"main", "spare"},
				Providers: map[string]ProviderConfig{"main": {Type: ProviderDummy}},
			},
			errSub: "no matching provider",
		},
		{
			name: "unknown provider type",
			model: RawModelConfig{
				Routing:   []string{"main"},
				Providers: map[string]ProviderConfig{"main": {Type: "teleport"}},
			},
			errSub: "unknown provider type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRaw(t, rawWithModels(map[string]RawModelConfig{"m": tt.model}))
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("error = %v, want substring %q", err, tt.errSub)
			}
			if got := errPath(t, err); !strings.HasPrefix(got, "models.m") {
				t.Errorf("path = %q, want models.m prefix", got)
			}
		})
	}
}

func TestValidateCredentials(t *testing.T) {
	const envVar = "MODELGATE_TEST_OPENAI_KEY"
	os.Unsetenv(envVar)

	raw := rawWithModels(map[string]RawModelConfig{
		"m": {
			Routing: []string{"main"},
			Providers: map[string]ProviderConfig{
				"main": {Type: ProviderOpenAI, ModelName: "gpt-4o", APIKeyEnv: envVar},
			},
		},
	})

	opts := LoadOptions{SkipObjectStoreVerification: true}
	if _, err := build(raw, &ResourceLoader{BasePath: t.TempDir()}, opts); err == nil {
		t.Fatal("expected credential error with env var unset")
	} else if !strings.Contains(err.Error(), envVar) {
		t.Errorf("error %q should name the missing variable", err.Error())
	}

	t.Setenv(envVar, "sk-test")
	if _, err := build(raw, &ResourceLoader{BasePath: t.TempDir()}, opts); err != nil {
		t.Fatalf("credential present, build failed: %v", err)
	}

	// The skip option suppresses the check entirely.
	os.Unsetenv(envVar)
	if _, err := buildRaw(t, raw); err != nil {
		t.Fatalf("SkipCredentialValidation should pass: %v", err)
	}
}

func TestValidateCredentialDefaultsFromProviderTypes(t *testing.T) {
	const envVar = "MODELGATE_TEST_PROXY_KEY"
	raw := rawWithModels(map[string]RawModelConfig{
		"m": {
			Routing: []string{"main"},
			Providers: map[string]ProviderConfig{
				"main": {Type: ProviderMistral, ModelName: "mistral-large"},
			},
		},
	})
	raw.ProviderTypes = map[string]ProviderTypeDefaults{
		"mistral": {APIKeyEnv: envVar},
	}

	t.Setenv(envVar, "key")
	opts := LoadOptions{SkipObjectStoreVerification: true}
	if _, err := build(raw, &ResourceLoader{BasePath: t.TempDir()}, opts); err != nil {
		t.Fatalf("provider_types default should satisfy the check: %v", err)
	}
}

func TestValidateFunctions(t *testing.T) {
	model := map[string]RawModelConfig{"m": chainModel()}

	tests := []struct {
		name   string
		fn     RawFunctionConfig
		errSub string
	}{
		{
			name:   "unknown type",
			fn:     RawFunctionConfig{Type: "tool_call", Variants: map[string]RawVariantConfig{"v": {Type: "chat_completion", Model: "m"}}},
			errSub: "unknown function type",
		},
		{
			name:   "json without output schema",
			fn:     RawFunctionConfig{Type: FunctionTypeJSON, Variants: map[string]RawVariantConfig{"v": {Type: "chat_completion", Model: "m"}}},
			errSub: "output_schema",
		},
		{
			name:   "unknown tool",
			fn:     RawFunctionConfig{Type: FunctionTypeChat, Tools: []string{"hammer"}, Variants: map[string]RawVariantConfig{"v": {Type: "chat_completion", Model: "m"}}},
			errSub: `tool "hammer" not found`,
		},
		{
			name:   "no variants",
			fn:     RawFunctionConfig{Type: FunctionTypeChat},
			errSub: "at least one variant",
		},
		{
			name:   "bad variant type",
			fn:     RawFunctionConfig{Type: FunctionTypeChat, Variants: map[string]RawVariantConfig{"v": {Type: "batch", Model: "m"}}},
			errSub: "unknown variant type",
		},
		{
			name:   "negative weight",
			fn:     RawFunctionConfig{Type: FunctionTypeChat, Variants: map[string]RawVariantConfig{"v": {Type: "chat_completion", Model: "m", Weight: -1}}},
			errSub: "weight",
		},
		{
			name:   "unknown model",
			fn:     RawFunctionConfig{Type: FunctionTypeChat, Variants: map[string]RawVariantConfig{"v": {Type: "chat_completion", Model: "nope"}}},
			errSub: `model "nope" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRaw(t, RawConfigTable{
				Models:    model,
				Functions: map[string]RawFunctionConfig{"f": tt.fn},
			})
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("error = %v, want substring %q", err, tt.errSub)
			}
		})
	}
}

func TestVariantShorthandMaterialized(t *testing.T) {
	cfg, err := buildRaw(t, RawConfigTable{
		Functions: map[string]RawFunctionConfig{
			"f": simpleFunction("dummy::mini"),
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := cfg.Models().Get("dummy::mini"); !ok {
		t.Error("variant shorthand should be materialized into the table")
	}
	if got := cfg.Models().Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestTemplateRequiresSchema(t *testing.T) {
	dir := t.TempDir()
	varTemplate := filepath.Join(dir, "user.minijinja")
	if err := os.WriteFile(varTemplate, []byte("Question: {{ question }}"), 0o644); err != nil {
		t.Fatal(err)
	}
	staticTemplate := filepath.Join(dir, "system.minijinja")
	if err := os.WriteFile(staticTemplate, []byte("You are a helpful assistant."), 0o644); err != nil {
		t.Fatal(err)
	}

	fn := RawFunctionConfig{
		Type: FunctionTypeChat,
		Variants: map[string]RawVariantConfig{
			"base": {
				Type:           "chat_completion",
				Model:          "m",
				SystemTemplate: "system.minijinja",
				UserTemplate:   "user.minijinja",
			},
		},
	}
	raw := RawConfigTable{
		Models:    map[string]RawModelConfig{"m": chainModel()},
		Functions: map[string]RawFunctionConfig{"f": fn},
	}

	_, err := build(raw, &ResourceLoader{BasePath: dir}, testOpts())
	if err == nil {
		t.Fatal("template with variables and no schema should fail")
	}
	if got := errPath(t, err); got != "functions.f.variants.base.user_template" {
		t.Errorf("path = %q", got)
	}

	// A variable-free template needs no schema.
	raw.Functions["f"] = RawFunctionConfig{
		Type: FunctionTypeChat,
		Variants: map[string]RawVariantConfig{
			"base": {Type: "chat_completion", Model: "m", SystemTemplate: "system.minijinja"},
		},
	}
	cfg, err := build(raw, &ResourceLoader{BasePath: dir}, testOpts())
	if err != nil {
		t.Fatalf("static template should validate: %v", err)
	}
	if _, ok := cfg.Templates["system.minijinja"]; !ok {
		t.Error("loaded template should be registered in Templates")
	}
}

func TestValidateTools(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "params.json")
	schema := `{"type": "object", "properties": {"city": {"type": "string"}}, "required": ["city"]}`
	if err := os.WriteFile(schemaPath, []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("resolves parameters schema", func(t *testing.T) {
		raw := RawConfigTable{
			Tools: map[string]RawToolConfig{
				"weather": {Description: "look up weather", Parameters: "params.json", Strict: true},
			},
		}
		cfg, err := build(raw, &ResourceLoader{BasePath: dir}, testOpts())
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		tool, err := cfg.GetTool("weather")
		if err != nil {
			t.Fatal(err)
		}
		if tool.Parameters == nil {
			t.Error("parameters schema should be compiled")
		}
		if !tool.Strict {
			t.Error("strict flag lost")
		}
	})

	t.Run("missing parameters", func(t *testing.T) {
		raw := RawConfigTable{
			Tools: map[string]RawToolConfig{"weather": {Description: "no schema"}},
		}
		_, err := build(raw, &ResourceLoader{BasePath: dir}, testOpts())
		if err == nil || !strings.Contains(err.Error(), "parameters") {
			t.Fatalf("error = %v, want parameters diagnostic", err)
		}
	})

	t.Run("reserved namespace", func(t *testing.T) {
		raw := RawConfigTable{
			Tools: map[string]RawToolConfig{
				ReservedPrefix + "t": {Parameters: "params.json"},
			},
		}
		_, err := build(raw, &ResourceLoader{BasePath: dir}, testOpts())
		if err == nil || !strings.Contains(err.Error(), "reserved") {
			t.Fatalf("error = %v, want reserved-name diagnostic", err)
		}
	})
}

func TestEvaluationInjection(t *testing.T) {
	raw := RawConfigTable{
		Models: map[string]RawModelConfig{"m": chainModel()},
		Functions: map[string]RawFunctionConfig{
			"answer": simpleFunction("m"),
		},
		Evaluations: map[string]EvaluationConfig{
			"quality": {
				Type:         "static",
				FunctionName: "answer",
				Evaluators: map[string]EvaluatorConfig{
					"accuracy": {Type: "llm_judge", Model: "dummy::judge"},
					"verbatim": {Type: "exact_match"},
				},
			},
		},
	}

	cfg, err := buildRaw(t, raw)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	judgeFn := ReservedPrefix + "llm_judge::quality::accuracy"
	fn, err := cfg.GetFunction(judgeFn)
	if err != nil {
		t.Fatalf("injected judge function missing: %v", err)
	}
	if fn.Type != FunctionTypeJSON {
		t.Errorf("judge function type = %q, want json", fn.Type)
	}
	v, ok := fn.Variants["judge"]
	if !ok {
		t.Fatal("judge function missing its variant")
	}
	if v.Model != "dummy::judge" {
		t.Errorf("judge variant model = %q", v.Model)
	}
	if _, ok := cfg.Models().Get("dummy::judge"); !ok {
		t.Error("judge model should be materialized")
	}

	judgeMetric, err := cfg.GetMetric(ReservedPrefix + "evaluation::quality::accuracy")
	if err != nil {
		t.Fatalf("judge metric missing: %v", err)
	}
	if judgeMetric.Type != "float" {
		t.Errorf("judge metric type = %q, want float", judgeMetric.Type)
	}

	matchMetric, err := cfg.GetMetric(ReservedPrefix + "evaluation::quality::verbatim")
	if err != nil {
		t.Fatalf("exact_match metric missing: %v", err)
	}
	if matchMetric.Type != "boolean" {
		t.Errorf("exact_match metric type = %q, want boolean", matchMetric.Type)
	}
}

func TestValidateEvaluations(t *testing.T) {
	base := func(eval EvaluationConfig) RawConfigTable {
		return RawConfigTable{
			Models:      map[string]RawModelConfig{"m": chainModel()},
			Functions:   map[string]RawFunctionConfig{"answer": simpleFunction("m")},
			Evaluations: map[string]EvaluationConfig{"e": eval},
		}
	}

	tests := []struct {
		name   string
		eval   EvaluationConfig
		errSub string
	}{
		{
			name:   "unknown evaluation type",
			eval:   EvaluationConfig{Type: "dynamic", FunctionName: "answer"},
			errSub: "unknown evaluation type",
		},
		{
			name:   "unknown function",
			eval:   EvaluationConfig{Type: "static", FunctionName: "ghost"},
			errSub: `function "ghost" not found`,
		},
		{
			name: "unknown evaluator type",
			eval: EvaluationConfig{
				Type:         "static",
				FunctionName: "answer",
				Evaluators:   map[string]EvaluatorConfig{"x": {Type: "vibes"}},
			},
			errSub: "unknown evaluator type",
		},
		{
			name: "missing judge model",
			eval: EvaluationConfig{
				Type:         "static",
				FunctionName: "answer",
				Evaluators:   map[string]EvaluatorConfig{"x": {Type: "llm_judge", Model: "ghost"}},
			},
			errSub: `judge model "ghost" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildRaw(t, base(tt.eval))
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Fatalf("error = %v, want substring %q", err, tt.errSub)
			}
		})
	}
}
