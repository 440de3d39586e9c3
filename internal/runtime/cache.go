package runtime

import (
	"fmt"
	"sort"

	"github.com/23skdu/longbow-circuit/internal/tensor"
)

// ActivationCache holds the activations recorded during one forward pass.
// Every tensor has batch as its leading axis.
type ActivationCache struct {
	nLayers int
	acts    map[HookKey]*tensor.Tensor
}

func newActivationCache(nLayers int) *ActivationCache {
	return &ActivationCache{nLayers: nLayers, acts: make(map[HookKey]*tensor.Tensor)}
}

// Get returns the activation for an exact key.
func (c *ActivationCache) Get(key HookKey) (*tensor.Tensor, bool) {
	t, ok := c.acts[key]
	return t, ok
}

// Lookup resolves a short or canonical hook name. Negative layers count back
// from the last block. Layer is ignored for global hooks.
func (c *ActivationCache) Lookup(name string, layer int) (*tensor.Tensor, error) {
	canon, ok := CanonicalHook(name)
	if !ok {
		return nil, fmt.Errorf("unknown hook %q", name)
	}
	key := HookKey{Name: canon, Layer: layer}
	if IsGlobalHook(canon) {
		key.Layer = GlobalLayer
	} else if layer < 0 {
		key.Layer = c.nLayers + layer
	}
	t, ok := c.acts[key]
	if !ok {
		return nil, fmt.Errorf("activation %s not cached", key.FullName())
	}
	return t, nil
}

// Keys returns the cached keys ordered by full name.
func (c *ActivationCache) Keys() []HookKey {
	keys := make([]HookKey, 0, len(c.acts))
	for k := range c.acts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].FullName() < keys[j].FullName() })
	return keys
}

func (c *ActivationCache) Len() int { return len(c.acts) }

// recorder writes per-sequence activations into batch-shaped tensors. A nil
// recorder drops everything.
type recorder struct {
	batch int
	cache *ActivationCache
}

func (r *recorder) put(key HookKey, b int, data []float64, inner ...int) {
	if r == nil {
		return
	}
	t, ok := r.cache.acts[key]
	if !ok {
		t = tensor.New(append([]int{r.batch}, inner...)...)
		r.cache.acts[key] = t
	}
	n := t.Numel() / r.batch
	copy(t.Data()[b*n:(b+1)*n], data)
}
