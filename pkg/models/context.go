package models

import "strings"

// LastStepOutputKey is where the orchestrator exposes the previous step's
// result to the next step during a run.
const LastStepOutputKey = "last_step_output"

// Context is the ephemeral namespace of resolved entity data and extras
// available to handlers, the template renderer and the condition evaluator
// during one run. It is never persisted; resumes rebuild it from the
// execution's stored trigger data.
type Context struct {
	values map[string]any
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// ContextFrom wraps an existing value map.
func ContextFrom(values map[string]any) *Context {
	if values == nil {
		values = make(map[string]any)
	}

	return &Context{values: values}
}

// Set stores a root-level value.
func (c *Context) Set(key string, value any) {
	c.values[key] = value
}

// SetNamespace stores a nested namespace (e.g. "lead" -> projected fields).
func (c *Context) SetNamespace(name string, fields map[string]any) {
	c.values[name] = fields
}

// HasNamespace reports whether a root key holds a nested mapping.
func (c *Context) HasNamespace(name string) bool {
	_, ok := c.values[name].(map[string]any)

	return ok
}

// Lookup resolves a dot-separated path. The second return is false when any
// segment is missing or an intermediate value is not a mapping.
func (c *Context) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")

	var current any = c.values

	for _, segment := range segments {
		mapping, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = mapping[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Values exposes the underlying map for handlers that need raw access.
func (c *Context) Values() map[string]any {
	return c.values
}

// Clone returns a shallow copy; namespace maps are shared.
func (c *Context) Clone() *Context {
	clone := make(map[string]any, len(c.values))
	for k, v := range c.values {
		clone[k] = v
	}

	return &Context{values: clone}
}
