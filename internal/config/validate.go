package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// reservedMetricNames are metric names the gateway claims for feedback
// bookkeeping regardless of prefix.
var reservedMetricNames = map[string]struct{}{
	"comment":       {},
	"demonstration": {},
}

// validate cross-checks the aggregate after resource loading. Validation
// stops at the first error; every error carries a dotted config path. A
// config that fails validation must never serve traffic.
func (c *Config) validate(opts LoadOptions) error {
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateModels(opts); err != nil {
		return err
	}
	if err := c.validateFunctions(); err != nil {
		return err
	}
	// The fallback graph is checked once over the whole table, after
	// function validation has materialized any shorthand-addressed models.
	if err := validateFallbackGraph(c.table); err != nil {
		return err
	}
	if err := c.validateEvaluations(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMetrics() error {
	for _, name := range sortedKeys(c.metrics) {
		path := "metrics." + name
		if _, reserved := reservedMetricNames[name]; reserved {
			return newError(path, "metric name %q is reserved", name)
		}
		if strings.HasPrefix(name, ReservedPrefix) {
			return newError(path, "metric name %q uses the reserved prefix %q", name, ReservedPrefix)
		}
		m := c.metrics[name]
		switch m.Type {
		case "boolean", "float":
		default:
			return newError(path+".type", "unknown metric type %q", m.Type)
		}
		if m.Optimize != "" && m.Optimize != "min" && m.Optimize != "max" {
			return newError(path+".optimize", "optimize must be \"min\" or \"max\", got %q", m.Optimize)
		}
		if m.Level != "" && m.Level != "inference" && m.Level != "episode" {
			return newError(path+".level", "level must be \"inference\" or \"episode\", got %q", m.Level)
		}
	}
	return nil
}

func (c *Config) validateTools() error {
	for _, name := range sortedKeys(c.tools) {
		if strings.HasPrefix(name, ReservedPrefix) {
			return newError("tools."+name, "tool name %q uses the reserved prefix %q", name, ReservedPrefix)
		}
	}
	return nil
}

func (c *Config) validateModels(opts LoadOptions) error {
	for _, name := range c.table.Names() {
		def, _ := c.table.Get(name)
		path := "models." + name

		if err := validateModelName(name); err != nil {
			return wrapError(path, err)
		}
		if len(def.Routing) == 0 {
			return newError(path+".routing", "routing must not be empty")
		}
		seen := make(map[string]struct{}, len(def.Routing))
		for _, entry := range def.Routing {
			if _, dup := seen[entry]; dup {
				return newError(path+".routing", "duplicate routing entry %q", entry)
			}
			seen[entry] = struct{}{}
			if _, ok := def.Providers[entry]; !ok {
				return newError(path+".routing", "routing entry %q has no matching provider", entry)
			}
		}
		for _, pname := range sortedKeys(def.Providers) {
			ppath := path + ".providers." + pname
			if strings.HasPrefix(pname, ReservedPrefix) {
				return newError(ppath, "provider name %q uses the reserved prefix %q", pname, ReservedPrefix)
			}
			p := def.Providers[pname]
			if !p.Type.Valid() {
				return newError(ppath+".type", "unknown provider type %q", p.Type)
			}
			if err := c.validateCredential(ppath, p, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateCredential checks that a provider's API key is available at load
// time. Skipping is an explicit load option threaded down from the caller,
// not ambient state, so tests can exercise both paths.
func (c *Config) validateCredential(path string, p ProviderConfig, opts LoadOptions) error {
	if opts.SkipCredentialValidation || !p.Type.requiresCredential() {
		return nil
	}
	envVar := p.APIKeyEnv
	if envVar == "" {
		if defaults, ok := c.ProviderTypes[string(p.Type)]; ok {
			envVar = defaults.APIKeyEnv
		}
	}
	if envVar == "" {
		envVar = p.Type.defaultAPIKeyEnv()
	}
	if envVar == "" {
		return newError(path, "provider type %q requires api_key_env", p.Type)
	}
	if os.Getenv(envVar) == "" {
		return newError(path, "credential environment variable %s is not set", envVar)
	}
	return nil
}

func (c *Config) validateFunctions() error {
	for _, name := range sortedKeys(c.functions) {
		fn := c.functions[name]
		path := "functions." + name

		if strings.HasPrefix(name, ReservedPrefix) {
			return newError(path, "function name %q uses the reserved prefix %q", name, ReservedPrefix)
		}
		switch fn.Type {
		case FunctionTypeChat, FunctionTypeJSON:
		default:
			return newError(path+".type", "unknown function type %q", fn.Type)
		}
		if fn.Type == FunctionTypeJSON && fn.OutputSchema == nil {
			return newError(path+".output_schema", "json functions require an output_schema")
		}
		for _, tool := range fn.Tools {
			if _, ok := c.tools[tool]; !ok {
				return newError(path+".tools", "tool %q not found", tool)
			}
		}
		if len(fn.Variants) == 0 {
			return newError(path+".variants", "function must declare at least one variant")
		}
		for _, vname := range sortedKeys(fn.Variants) {
			v := fn.Variants[vname]
			vpath := path + ".variants." + vname
			if strings.HasPrefix(vname, ReservedPrefix) {
				return newError(vpath, "variant name %q uses the reserved prefix %q", vname, ReservedPrefix)
			}
			if v.Type != "chat_completion" {
				return newError(vpath+".type", "unknown variant type %q", v.Type)
			}
			if v.Weight < 0 {
				return newError(vpath+".weight", "weight must not be negative")
			}
			if !c.table.Resolvable(v.Model) {
				return newError(vpath+".model", "model %q not found", v.Model)
			}
			// Shorthand references become real table entries here, so the
			// fallback pass and the request path see the same namespace.
			if err := c.table.Materialize(v.Model); err != nil {
				return wrapError(vpath+".model", err)
			}
			if err := checkTemplateSchema(vpath, "system", v.SystemTemplate, fn.SystemSchema); err != nil {
				return err
			}
			if err := checkTemplateSchema(vpath, "user", v.UserTemplate, fn.UserSchema); err != nil {
				return err
			}
			if err := checkTemplateSchema(vpath, "assistant", v.AssistantTemplate, fn.AssistantSchema); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkTemplateSchema(vpath, role string, tmpl *Template, schema *jsonschema.Schema) error {
	if tmpl == nil || !tmpl.hasVariables() {
		return nil
	}
	if schema == nil {
		return newError(
			fmt.Sprintf("%s.%s_template", vpath, role),
			"template %s references variables but the function declares no %s_schema", tmpl.Path, role)
	}
	return nil
}

func (c *Config) validateEvaluations() error {
	for _, name := range sortedKeys(c.Evaluations) {
		eval := c.Evaluations[name]
		path := "evaluations." + name
		if strings.HasPrefix(name, ReservedPrefix) {
			return newError(path, "evaluation name %q uses the reserved prefix %q", name, ReservedPrefix)
		}
		if eval.Type != "static" {
			return newError(path+".type", "unknown evaluation type %q", eval.Type)
		}
		if _, ok := c.functions[eval.FunctionName]; !ok {
			return newError(path+".function_name", "function %q not found", eval.FunctionName)
		}
		for _, evaluatorName := range sortedKeys(eval.Evaluators) {
			evaluator := eval.Evaluators[evaluatorName]
			epath := path + ".evaluators." + evaluatorName
			switch evaluator.Type {
			case "llm_judge":
				if !c.table.Resolvable(evaluator.Model) {
					return newError(epath+".model", "judge model %q not found", evaluator.Model)
				}
			case "exact_match":
			default:
				return newError(epath+".type", "unknown evaluator type %q", evaluator.Type)
			}
		}
	}
	return nil
}
