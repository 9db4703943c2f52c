package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/modelgate/modelgate/internal/objectstore"
)

// LoadOptions control a single config load. Skips are explicit parameters
// threaded down to the checks that honor them rather than ambient state.
type LoadOptions struct {
	Path                        string
	SkipCredentialValidation    bool
	SkipObjectStoreVerification bool
}

// Load reads, resolves, and validates the config document at opts.Path.
// Any error is fatal to startup: the gateway never serves traffic with a
// partially valid config.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(opts.Path), toml.Parser()); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("read config %s: %v", opts.Path, err), Err: err}
	}

	// Environment overrides, MODELGATE_GATEWAY__DEBUG=true style.
	if err := k.Load(env.Provider("MODELGATE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MODELGATE_")), "__", ".")
	}), nil); err != nil {
		return nil, &Error{Msg: "load environment overrides: " + err.Error(), Err: err}
	}

	// Defaults.
	if !k.Exists("gateway.bind_address") {
		k.Set("gateway.bind_address", "0.0.0.0:3000")
	}
	if !k.Exists("gateway.usage_limits.cache_ttl") {
		k.Set("gateway.usage_limits.cache_ttl", "5m")
	}
	if !k.Exists("gateway.usage_limits.sync_interval") {
		k.Set("gateway.usage_limits.sync_interval", "30s")
	}
	if !k.Exists("gateway.usage_limits.store_timeout") {
		k.Set("gateway.usage_limits.store_timeout", "2s")
	}
	if !k.Exists("gateway.usage_limits.fail_open") {
		k.Set("gateway.usage_limits.fail_open", true)
	}
	if !k.Exists("object_storage.type") {
		k.Set("object_storage.type", "disabled")
	}

	var raw RawConfigTable
	// ErrorUnused makes unknown keys at any level a hard parse error.
	conf := koanf.UnmarshalConf{
		Tag: "toml",
		DecoderConfig: &mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      &raw,
			TagName:     "toml",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &raw, conf); err != nil {
		return nil, &Error{Msg: "invalid config document: " + err.Error(), Err: err}
	}

	return build(raw, &ResourceLoader{BasePath: filepath.Dir(opts.Path)}, opts)
}

// build runs the load pipeline over an already-parsed document: resource
// resolution, model table assembly, validation, evaluation injection, and
// the object store probe.
func build(raw RawConfigTable, loader *ResourceLoader, opts LoadOptions) (*Config, error) {
	table, err := NewModelTable(raw.Models, raw.EmbeddingModels)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Gateway:       raw.Gateway,
		ObjectStorage: raw.ObjectStorage,
		ProviderTypes: raw.ProviderTypes,
		APIKeys:       raw.APIKeys,
		Evaluations:   raw.Evaluations,
		Templates:     make(map[string]Template),
		table:         table,
		functions:     make(map[string]*FunctionConfig, len(raw.Functions)),
		metrics:       raw.Metrics,
		tools:         make(map[string]*ToolConfig, len(raw.Tools)),
	}
	if cfg.metrics == nil {
		cfg.metrics = make(map[string]MetricConfig)
	}

	for _, name := range sortedKeys(raw.Tools) {
		tool, err := resolveTool(name, raw.Tools[name], loader)
		if err != nil {
			return nil, err
		}
		cfg.tools[name] = tool
	}

	for _, name := range sortedKeys(raw.Functions) {
		fn, err := resolveFunction(name, raw.Functions[name], loader, cfg.Templates)
		if err != nil {
			return nil, err
		}
		cfg.functions[name] = fn
	}

	if err := cfg.validate(opts); err != nil {
		return nil, err
	}
	if err := cfg.injectEvaluationFunctions(); err != nil {
		return nil, err
	}

	if !opts.SkipObjectStoreVerification {
		if err := verifyObjectStore(cfg.ObjectStorage); err != nil {
			return nil, wrapError("object_storage", err)
		}
	}

	return cfg, nil
}

func resolveTool(name string, raw RawToolConfig, loader *ResourceLoader) (*ToolConfig, error) {
	if raw.Parameters == "" {
		return nil, newError("tools."+name+".parameters", "tool must declare a parameters schema")
	}
	schema, err := loader.LoadSchema(raw.Parameters)
	if err != nil {
		return nil, wrapError("tools."+name+".parameters", err)
	}
	return &ToolConfig{
		Name:        name,
		Description: raw.Description,
		Parameters:  schema,
		Strict:      raw.Strict,
	}, nil
}

func resolveFunction(name string, raw RawFunctionConfig, loader *ResourceLoader, templates map[string]Template) (*FunctionConfig, error) {
	path := "functions." + name
	fn := &FunctionConfig{
		Name:     name,
		Type:     raw.Type,
		Tools:    raw.Tools,
		Variants: make(map[string]*VariantConfig, len(raw.Variants)),
	}

	var err error
	if fn.SystemSchema, err = loadOptionalSchema(loader, raw.SystemSchema, path+".system_schema"); err != nil {
		return nil, err
	}
	if fn.UserSchema, err = loadOptionalSchema(loader, raw.UserSchema, path+".user_schema"); err != nil {
		return nil, err
	}
	if fn.AssistantSchema, err = loadOptionalSchema(loader, raw.AssistantSchema, path+".assistant_schema"); err != nil {
		return nil, err
	}
	if fn.OutputSchema, err = loadOptionalSchema(loader, raw.OutputSchema, path+".output_schema"); err != nil {
		return nil, err
	}

	for _, vname := range sortedKeys(raw.Variants) {
		rawVariant := raw.Variants[vname]
		vpath := path + ".variants." + vname
		variant := &VariantConfig{
			Name:   vname,
			Type:   rawVariant.Type,
			Model:  rawVariant.Model,
			Weight: rawVariant.Weight,
		}
		if variant.SystemTemplate, err = loadOptionalTemplate(loader, rawVariant.SystemTemplate, vpath+".system_template", templates); err != nil {
			return nil, err
		}
		if variant.UserTemplate, err = loadOptionalTemplate(loader, rawVariant.UserTemplate, vpath+".user_template", templates); err != nil {
			return nil, err
		}
		if variant.AssistantTemplate, err = loadOptionalTemplate(loader, rawVariant.AssistantTemplate, vpath+".assistant_template", templates); err != nil {
			return nil, err
		}
		fn.Variants[vname] = variant
	}

	return fn, nil
}

func loadOptionalSchema(loader *ResourceLoader, path, locator string) (*jsonschema.Schema, error) {
	if path == "" {
		return nil, nil
	}
	schema, err := loader.LoadSchema(path)
	if err != nil {
		return nil, wrapError(locator, err)
	}
	return schema, nil
}

func loadOptionalTemplate(loader *ResourceLoader, path, locator string, templates map[string]Template) (*Template, error) {
	if path == "" {
		return nil, nil
	}
	tmpl, err := loader.LoadTemplate(path)
	if err != nil {
		return nil, wrapError(locator, err)
	}
	templates[tmpl.Path] = tmpl
	return &tmpl, nil
}

// verifyObjectStore runs the storage write probe once after validation.
// Failure is a fatal startup error like any other config problem.
func verifyObjectStore(cfg ObjectStorageConfig) error {
	info, err := objectstore.New(objectstore.Options{
		Kind:         objectstore.Kind(cfg.Type),
		Path:         cfg.Path,
		Endpoint:     cfg.Endpoint,
		Bucket:       cfg.Bucket,
		Region:       cfg.Region,
		AccessKeyEnv: cfg.AccessKeyEnv,
		SecretKeyEnv: cfg.SecretKeyEnv,
		UseSSL:       cfg.UseSSL,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return info.Verify(ctx)
}
