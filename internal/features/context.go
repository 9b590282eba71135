// Package features builds the per-event feature context that rule
// conditions are evaluated against.
package features

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Namespace is a typed attribute map. Lookups of unknown names return Absent.
type Namespace map[string]Value

// Get returns the named attribute or Absent.
func (n Namespace) Get(name string) Value {
	if n == nil {
		return Absent
	}
	return n[name]
}

// Context is the evaluation context for one event.
type Context struct {
	// Service is the event's own service.
	Service string

	features   Namespace
	namespaces map[string]Namespace
}

// Feature resolves a bare feature name.
func (c *Context) Feature(name string) Value {
	return c.features.Get(name)
}

// Namespace returns the named service namespace and whether it exists.
// Known services other than the event's own exist but are empty.
func (c *Context) Namespace(service string) (Namespace, bool) {
	ns, ok := c.namespaces[service]
	return ns, ok
}

// Resolve looks up `feature` when namespace is empty, otherwise
// `namespace.feature`. Unknown namespaces and attributes are Absent.
func (c *Context) Resolve(namespace, feature string) Value {
	if namespace == "" {
		return c.Feature(feature)
	}
	ns, ok := c.namespaces[namespace]
	if !ok {
		return Absent
	}
	return ns.Get(feature)
}

// Registry is the closed set of service identities known to the system.
type Registry struct {
	services []string
	index    map[string]struct{}
}

// NewRegistry creates a registry. Empty names are ignored.
func NewRegistry(services ...string) *Registry {
	r := &Registry{index: make(map[string]struct{}, len(services))}
	for _, s := range services {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := r.index[s]; dup {
			continue
		}
		r.index[s] = struct{}{}
		r.services = append(r.services, s)
	}
	return r
}

// DefaultRegistry returns the registry of default known services.
func DefaultRegistry() *Registry {
	return NewRegistry(domain.DefaultKnownServices...)
}

// Known reports whether service is registered.
func (r *Registry) Known(service string) bool {
	_, ok := r.index[service]
	return ok
}

// Services returns the registered services in registration order.
func (r *Registry) Services() []string {
	return append([]string(nil), r.services...)
}

// Builder turns events into contexts.
type Builder struct {
	registry *Registry
}

// NewBuilder creates a context builder over the given service registry.
func NewBuilder(registry *Registry) *Builder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Builder{registry: registry}
}

// Registry returns the builder's service registry.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Build derives the evaluation context for ev. It never fails: malformed
// metadata is treated as empty.
func (b *Builder) Build(ev *domain.Event) *Context {
	meta := ParseMeta(ev.Meta)
	derived := derive(ev, meta)

	top := make(Namespace, len(derived)+4)
	for k, v := range derived {
		top[k] = v
	}
	top["value"] = Number(ev.Value)
	top["service"] = String(ev.Service)
	top["unit"] = String(ev.Unit)

	namespaces := make(map[string]Namespace, len(b.registry.services)+1)
	for _, s := range b.registry.services {
		namespaces[s] = Namespace{}
	}
	if ev.Service != "" {
		namespaces[ev.Service] = derived
	}

	return &Context{
		Service:    ev.Service,
		features:   top,
		namespaces: namespaces,
	}
}

// derive computes the canonical feature set. Metadata keys are applied last
// and override derived names.
func derive(ev *domain.Event, meta map[string]Value) Namespace {
	val := Number(ev.Value)
	typ := String(ev.EventType)

	ns := Namespace{
		"amount":             val,
		"count":              Number(math.Trunc(ev.Value)),
		"duration":           val,
		"bandwidth":          val,
		"concurrent_streams": val,
		"data_amount":        val,
		"type":               typ,
		"event_type":         typ,
		"traffic_type":       typ,
		"city":               String(ev.Unit),
		"watch_type":         String("STREAM"),
		"merchant":           String("Unknown"),
	}
	for k, v := range meta {
		ns[k] = v
	}
	return ns
}

// ParseMeta decodes the string-encoded metadata object into a flat map.
// Anything that is not a JSON object yields an empty map.
func ParseMeta(raw string) map[string]Value {
	out := make(map[string]Value)
	if strings.TrimSpace(raw) == "" {
		return out
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return out
	}

	for k, v := range doc {
		fv := FromAny(v)
		if fv.IsAbsent() {
			continue
		}
		out[k] = fv
	}
	return out
}
