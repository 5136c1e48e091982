package traits

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-traits/pkg/observe"
)

var (
	// ErrVariantNotSet indicates an attribute access before any variant was
	// made current.
	ErrVariantNotSet = errors.New("traits: no current variant")
	// ErrNotComputed indicates an attribute that was never stored under the
	// current variant. Callers catch it to trigger (re)derivation.
	ErrNotComputed = errors.New("traits: attribute not computed for variant")
)

// Swapcacheable memoizes parallel attribute sets keyed by an arbitrary
// comparable variant key, exposing one variant at a time through a current-key
// indirection. Writing an attribute stores it only under the current variant;
// switching away and back preserves it. Reading an attribute that was never
// stored under the current variant fails with ErrNotComputed rather than
// leaking a value from another variant.
//
// The zero value is ready to use. Not safe for concurrent use.
type Swapcacheable struct {
	variants map[any]map[string]any
	order    []any
	current  any
	present  bool
	limit    int
	emitter  *observe.Emitter
}

// Observe routes variant events through emitter.
func (c *Swapcacheable) Observe(emitter *observe.Emitter) {
	c.emitter = emitter
}

// SetVariant makes key the current variant. A key never seen before starts
// with an empty attribute set; a known key re-exposes whatever was last
// stored for it, with no recomputation.
func (c *Swapcacheable) SetVariant(key any) {
	if c.variants == nil {
		c.variants = map[any]map[string]any{}
	}
	if c.present && c.current == key {
		return
	}
	if _, seen := c.variants[key]; !seen {
		c.variants[key] = map[string]any{}
		c.order = append(c.order, key)
	}
	c.current = key
	c.present = true
	c.evict()

	if c.emitter.Enabled() {
		_ = c.emitter.Emit(context.Background(), observe.Event{
			Verb:     observe.VerbVariantSwitched,
			Trait:    "swapcache",
			Key:      fmt.Sprint(key),
			Metadata: map[string]any{"variants": len(c.variants)},
		})
	}
}

// CurrentVariant returns the current variant key, if one is set.
func (c *Swapcacheable) CurrentVariant() (any, bool) {
	if !c.present {
		return nil, false
	}
	return c.current, true
}

// HasVariant reports whether key has ever been made current.
func (c *Swapcacheable) HasVariant(key any) bool {
	_, seen := c.variants[key]
	return seen
}

// Variants returns the known variant keys in first-use order.
func (c *Swapcacheable) Variants() []any {
	if len(c.order) == 0 {
		return nil
	}
	out := make([]any, len(c.order))
	copy(out, c.order)
	return out
}

// Store writes value under name for the current variant only.
func (c *Swapcacheable) Store(name string, value any) error {
	if !c.present {
		return fmt.Errorf("%w: cannot store %q", ErrVariantNotSet, name)
	}
	c.variants[c.current][name] = value

	if c.emitter.Enabled() {
		_ = c.emitter.Emit(context.Background(), observe.Event{
			Verb:     observe.VerbVariantStored,
			Trait:    "swapcache",
			Key:      name,
			Metadata: map[string]any{"variant": fmt.Sprint(c.current)},
		})
	}
	return nil
}

// Lookup reads name under the current variant. It fails with ErrNotComputed
// when the attribute was never stored for that variant.
func (c *Swapcacheable) Lookup(name string) (any, error) {
	if !c.present {
		return nil, fmt.Errorf("%w: cannot read %q", ErrVariantNotSet, name)
	}
	value, ok := c.variants[c.current][name]
	if !ok {
		return nil, fmt.Errorf("%w: %q under variant %v", ErrNotComputed, name, c.current)
	}
	return value, nil
}

// Cached reads name under the current variant as T.
func Cached[T any](c *Swapcacheable, name string) (T, error) {
	var zero T
	value, err := c.Lookup(name)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("traits: attribute %q under variant %v is %T, not %T", name, c.current, value, zero)
	}
	return typed, nil
}

// DropVariant forgets key and every attribute stored under it. Dropping the
// current variant leaves the cache with no current key.
func (c *Swapcacheable) DropVariant(key any) {
	if _, seen := c.variants[key]; !seen {
		return
	}
	delete(c.variants, key)
	for i, existing := range c.order {
		if existing == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.present && c.current == key {
		c.current = nil
		c.present = false
	}
}

// SetVariantLimit bounds how many variants are retained; the oldest
// non-current variants are evicted beyond limit. Zero (the default) retains
// everything.
func (c *Swapcacheable) SetVariantLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	c.limit = limit
	c.evict()
}

func (c *Swapcacheable) evict() {
	if c.limit <= 0 {
		return
	}
	for len(c.order) > c.limit {
		evicted := false
		for _, key := range c.order {
			if c.present && key == c.current {
				continue
			}
			c.DropVariant(key)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}
