package config

import (
	"fmt"
	"strings"
)

// Validate enforces the loader invariants: no duplicate provider names, every
// route (and per-model override) must resolve to a provider+model that actually
// exists, and routes.default must be present.
func Validate(cfg *Config) error {
	if cfg.Router.Default == "" {
		return fmt.Errorf("router: default route is required")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	byName := make(map[string]*Provider, len(cfg.Providers))
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if seen[p.Name] {
			return fmt.Errorf("provider %q is declared more than once", p.Name)
		}
		seen[p.Name] = true
		byName[p.Name] = p
	}

	routes := map[string]string{
		"default":     cfg.Router.Default,
		"think":       cfg.Router.Think,
		"background":  cfg.Router.Background,
		"longContext": cfg.Router.LongContext,
		"webSearch":   cfg.Router.WebSearch,
	}
	for routeName, target := range routes {
		if target == "" {
			continue
		}
		if err := validateTarget(routeName, target, byName); err != nil {
			return err
		}
	}

	for _, p := range cfg.Providers {
		for model, spec := range p.Transformer.PerModel {
			if !modelKnown(&p, model) {
				return fmt.Errorf("provider %q: perModel override for unknown model %q", p.Name, model)
			}
			_ = spec
		}
	}

	return nil
}

func validateTarget(routeName, target string, providers map[string]*Provider) error {
	providerName, model, err := SplitTarget(target)
	if err != nil {
		return fmt.Errorf("router.%s: %w", routeName, err)
	}

	p, ok := providers[providerName]
	if !ok {
		return fmt.Errorf("router.%s: unknown provider %q", routeName, providerName)
	}

	if !modelKnown(p, model) {
		return fmt.Errorf("router.%s: model %q not present in provider %q's model list", routeName, model, providerName)
	}

	return nil
}

func modelKnown(p *Provider, model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	for _, m := range p.DefaultModels {
		if m == model {
			return true
		}
	}
	return false
}

// SplitTarget splits a router target of the form "provider,model" into its two
// parts. Only the first comma is significant: a model string containing a
// second comma (e.g. "openrouter,anthropic,claude-3.5-sonnet") is split on the
// first one only, and everything after it becomes the model name verbatim.
func SplitTarget(target string) (provider, model string, err error) {
	parts := strings.SplitN(target, ",", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("target %q is missing the provider,model separator", target)
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("target %q has an empty provider or model", target)
	}
	return parts[0], parts[1], nil
}
