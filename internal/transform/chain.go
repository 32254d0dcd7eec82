package transform

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Chain is an ordered list of transformers built for one (provider, model)
// target. Request passes and ResponseOut run forward; ResponseIn and
// TransformStream run in reverse, so the first transformer to touch an
// outbound request is the last to see the raw inbound response.
type Chain struct {
	transformers []Transformer
}

func NewChain(transformers []Transformer) *Chain {
	return &Chain{transformers: transformers}
}

func (c *Chain) RequestIn(ctx context.Context, body []byte) ([]byte, error) {
	var err error
	for _, t := range c.transformers {
		if body, err = t.RequestIn(ctx, body); err != nil {
			return nil, fmt.Errorf("%s.requestIn: %w", t.Name(), err)
		}
	}
	return body, nil
}

func (c *Chain) RequestOut(ctx context.Context, body []byte) ([]byte, error) {
	var err error
	for _, t := range c.transformers {
		if body, err = t.RequestOut(ctx, body); err != nil {
			return nil, fmt.Errorf("%s.requestOut: %w", t.Name(), err)
		}
	}
	return body, nil
}

func (c *Chain) ResponseIn(ctx context.Context, body []byte) ([]byte, error) {
	var err error
	for i := len(c.transformers) - 1; i >= 0; i-- {
		t := c.transformers[i]
		if body, err = t.ResponseIn(ctx, body); err != nil {
			return nil, fmt.Errorf("%s.responseIn: %w", t.Name(), err)
		}
	}
	return body, nil
}

func (c *Chain) ResponseOut(ctx context.Context, body []byte) ([]byte, error) {
	var err error
	for _, t := range c.transformers {
		if body, err = t.ResponseOut(ctx, body); err != nil {
			return nil, fmt.Errorf("%s.responseOut: %w", t.Name(), err)
		}
	}
	return body, nil
}

// TransformStream applies every StreamTransformer in the chain, in reverse
// order, to one decoded SSE event; a transformer may fan one event out into
// several (or none).
func (c *Chain) TransformStream(ctx context.Context, event StreamEvent, state *StreamState) ([]StreamEvent, error) {
	events := []StreamEvent{event}

	for i := len(c.transformers) - 1; i >= 0; i-- {
		st, ok := c.transformers[i].(StreamTransformer)
		if !ok {
			continue
		}

		var next []StreamEvent
		for _, ev := range events {
			out, err := st.TransformStream(ctx, ev, state)
			if err != nil {
				return nil, fmt.Errorf("%s.transformStream: %w", c.transformers[i].Name(), err)
			}
			next = append(next, out...)
		}
		events = next
	}

	return events, nil
}

// Builder resolves a (provider, model) target to a Chain, caching the
// result so repeated requests to the same target skip rebuilding it, and
// de-duplicating concurrent first-time builds for the same target with
// singleflight so N simultaneous requests for a never-seen target build the
// chain exactly once.
type Builder struct {
	registry *Registry
	cache    sync.Map // string -> *Chain
	group    singleflight.Group
	resolve  func(provider, model string) ([]Spec, error)
}

// Spec names one transformer step the Builder should instantiate.
type Spec struct {
	Name    string
	Options map[string]any
}

func NewBuilder(registry *Registry, resolve func(provider, model string) ([]Spec, error)) *Builder {
	return &Builder{registry: registry, resolve: resolve}
}

// Clear drops every cached chain, so the next Chain call for any target
// rebuilds it from the latest resolve results. Called after a config
// hot-reload, since a cached chain may have been built from stale
// transformer specs.
func (b *Builder) Clear() {
	b.cache.Range(func(key, _ any) bool {
		b.cache.Delete(key)
		return true
	})
}

func (b *Builder) Chain(provider, model string) (*Chain, error) {
	key := provider + "\x00" + model

	if cached, ok := b.cache.Load(key); ok {
		return cached.(*Chain), nil
	}

	result, err, _ := b.group.Do(key, func() (any, error) {
		if cached, ok := b.cache.Load(key); ok {
			return cached.(*Chain), nil
		}

		specs, err := b.resolve(provider, model)
		if err != nil {
			return nil, err
		}

		transformers := make([]Transformer, 0, len(specs))
		for _, spec := range specs {
			t, err := b.registry.Build(spec.Name, spec.Options)
			if err != nil {
				return nil, fmt.Errorf("build transformer %q for %s: %w", spec.Name, key, err)
			}
			transformers = append(transformers, t)
		}

		chain := NewChain(transformers)
		b.cache.Store(key, chain)
		return chain, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Chain), nil
}
