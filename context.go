package unwind

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/btree"
)

// Context is the saga-scoped key-value store through which steps pass data
// forward. The coordinator merges each step's forward output into the context
// under the step's name, so a value produced by step A is readable by step
// C's forward action and by A's own compensation.
//
// The saga exclusively owns its context. Within a sequential saga only one
// step touches it at a time; steps inside a parallel stage are serialized
// through the internal lock.
type Context struct {
	mu     sync.RWMutex
	values *btree.Map[string, any]
}

// NewContext creates an empty saga context.
func NewContext() *Context {
	return &Context{
		values: btree.NewMap[string, any](10),
	}
}

// Set stores a value under the given key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Set(key, value)
}

// Get retrieves the value for a key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Get(key)
}

// GetString retrieves a string value, or "" if absent or of another type.
func (c *Context) GetString(key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt retrieves an integer value. Numeric JSON round-trips decode as
// float64, so those are accepted too.
func (c *Context) GetInt(key string) int {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetFloat64 retrieves a float64 value, accepting integer types as well.
func (c *Context) GetFloat64(key string) float64 {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// GetBool retrieves a boolean value, or false if absent or of another type.
func (c *Context) GetBool(key string) bool {
	if v, ok := c.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Keys returns all keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.values.Len())
	c.values.Scan(func(key string, _ any) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Len returns the number of entries.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values.Len()
}

// Snapshot serializes the context to JSON for journaling and persistence.
// Values that cannot be marshaled make the snapshot fail; step outputs are
// expected to be serializable, as in any saga that survives a restart.
func (c *Context) Snapshot() (json.RawMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]any, c.values.Len())
	c.values.Scan(func(key string, value any) bool {
		m[key] = value
		return true
	})
	return json.Marshal(m)
}

// restore replaces the context contents from a snapshot.
func (c *Context) restore(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = btree.NewMap[string, any](10)
	for k, v := range m {
		c.values.Set(k, v)
	}
	return nil
}
