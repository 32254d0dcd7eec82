package transform

import "fmt"

// Factory builds a Transformer from its configured options.
type Factory func(options map[string]any) (Transformer, error)

// Registry is the process-wide name -> factory table. Built-in transformers
// are registered once at startup by RegisterBuiltins; custom transformers
// (config `customTransformers`) are resolved against a separate compiled
// allow-list by RegisterCustom, never loaded from disk at runtime.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory. Registering the same name twice is a
// configuration error, not a silent override — it would otherwise let one
// provider's options quietly shadow another's.
func (r *Registry) Register(name string, factory Factory) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("transformer %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) Build(name string, options map[string]any) (Transformer, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
	return factory(options)
}

func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// RegisterBuiltins installs the eight built-in transformers.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Factory{
		"anthropic":  func(map[string]any) (Transformer, error) { return NewAnthropicTransformer(), nil },
		"openai":     func(opts map[string]any) (Transformer, error) { return NewOpenAITransformer(opts), nil },
		"deepseek":   func(opts map[string]any) (Transformer, error) { return NewDeepSeekTransformer(opts), nil },
		"groq":       func(opts map[string]any) (Transformer, error) { return NewGroqTransformer(opts), nil },
		"openrouter": func(opts map[string]any) (Transformer, error) { return NewOpenRouterTransformer(opts), nil },
		"gemini":     func(opts map[string]any) (Transformer, error) { return NewGeminiTransformer(opts), nil },
		"maxtoken":   func(opts map[string]any) (Transformer, error) { return NewMaxTokenTransformer(opts) },
		"tooluse":    func(opts map[string]any) (Transformer, error) { return NewToolUseTransformer(opts), nil },
	}

	for name, factory := range builtins {
		if err := r.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

// customFactories is the compiled allow-list custom transformers are
// resolved against; config.CustomTransformerSpec.Path is a lookup key into
// this map, not a filesystem path, since true dynamic code loading is out of
// scope (design note 9).
var customFactories = map[string]Factory{}

// RegisterCustomFactory adds an entry to the compiled custom-transformer
// allow-list. Called from an init() in a package that defines one.
func RegisterCustomFactory(path string, factory Factory) {
	customFactories[path] = factory
}

// RegisterCustom installs every compiled-in custom transformer under its
// configured path as its registry name.
func RegisterCustom(r *Registry, specs []CustomSpec) error {
	for _, spec := range specs {
		factory, ok := customFactories[spec.Path]
		if !ok {
			return fmt.Errorf("custom transformer %q is not compiled in", spec.Path)
		}
		if err := r.Register(spec.Path, factory); err != nil {
			return err
		}
	}
	return nil
}

// CustomSpec mirrors config.CustomTransformerSpec to avoid an import cycle
// between transform and config.
type CustomSpec struct {
	Path    string
	Options map[string]any
}
