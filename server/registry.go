package server

import (
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// Kind tells whether a registration answers requests or only notifications.
type Kind int

const (
	// KindMethod registrations answer requests and accept notifications.
	KindMethod Kind = iota
	// KindNotification registrations only accept notifications.
	KindNotification
)

func (k Kind) String() string {
	if k == KindNotification {
		return "notification"
	}
	return "method"
}

// Registration is the binding stored for one method name.
type Registration struct {
	Name         string
	Kind         Kind
	Method       MethodHandler
	Notification NotificationHandler
}

// MethodInfo describes a registration for discovery.
type MethodInfo struct {
	Name   string             `json:"name"`
	Kind   string             `json:"kind"`
	Params *jsonschema.Schema `json:"params,omitempty"`
	Result *jsonschema.Schema `json:"result,omitempty"`
}

// Registry maps method names to handlers. It is safe for concurrent use and
// optimised for lookups; registering a name again replaces the previous
// binding whatever its kind.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// RegisterMethod binds name to h. It panics if name is empty or h is nil.
func (r *Registry) RegisterMethod(name string, h MethodHandler) {
	if name == "" {
		panic("jsonrpc: empty method name")
	}
	if h == nil {
		panic("jsonrpc: nil handler for method " + name)
	}
	r.store(Registration{Name: name, Kind: KindMethod, Method: h})
}

// RegisterNotification binds name to a notification-only handler. It panics
// if name is empty or h is nil.
func (r *Registry) RegisterNotification(name string, h NotificationHandler) {
	if name == "" {
		panic("jsonrpc: empty notification name")
	}
	if h == nil {
		panic("jsonrpc: nil handler for notification " + name)
	}
	r.store(Registration{Name: name, Kind: KindNotification, Notification: h})
}

func (r *Registry) store(reg Registration) {
	r.mu.Lock()
	r.entries[reg.Name] = reg
	r.mu.Unlock()
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	return reg, ok
}

// Unregister removes name. It reports whether a binding existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Describe lists every registration in lexical order, with schemas when the
// handler was built by Method or Notification.
func (r *Registry) Describe() []MethodInfo {
	r.mu.RLock()
	infos := make([]MethodInfo, 0, len(r.entries))
	for _, reg := range r.entries {
		info := MethodInfo{Name: reg.Name, Kind: reg.Kind.String()}
		var h any = reg.Method
		if reg.Kind == KindNotification {
			h = reg.Notification
		}
		if src, ok := h.(schemaSource); ok {
			info.Params, info.Result = src.schemas()
		}
		infos = append(infos, info)
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
