package definition

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

var (
	// ErrUnknownHandler indicates a node names a handler not in the registry.
	ErrUnknownHandler = errors.New("unknown handler")

	// ErrDuplicateHandler indicates a handler name registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")
)

// HandlerFactory builds a node handler from the node's args.
type HandlerFactory func(args state.Map) (stategraph.NodeHandler, error)

// Registry maps handler names used in definitions to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewRegistry creates a registry holding the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]HandlerFactory)}
	r.MustRegister("echo", echoHandler)
	r.MustRegister("set", setHandler)
	r.MustRegister("increment", incrementHandler)
	return r
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f HandlerFactory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register handler %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, f HandlerFactory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Args exposes handler args through typed accessors.
func Args(args state.Map) config.Config {
	return config.New(args.Interface())
}

// echoHandler copies args.field (default "input") to args.output (default
// "output").
func echoHandler(args state.Map) (stategraph.NodeHandler, error) {
	cfg := Args(args)
	from := cfg.String("field", "input")
	to := cfg.String("output", "output")
	return stategraph.HandlerFunc(func(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
		v, ok := st[from]
		if !ok {
			return nil, fmt.Errorf("echo: field %q not set", from)
		}
		return state.Map{to: v}, nil
	}), nil
}

// setHandler writes the constant object args.values.
func setHandler(args state.Map) (stategraph.NodeHandler, error) {
	values, ok := args["values"].AsMap()
	if !ok {
		return nil, fmt.Errorf("set: args.values must be an object")
	}
	update := state.Map(values)
	return stategraph.HandlerFunc(func(stategraph.Context, state.Map, stategraph.RunConfig) (state.Map, error) {
		return update.Clone(), nil
	}), nil
}

// incrementHandler adds args.by (default 1) to the number in args.field.
func incrementHandler(args state.Map) (stategraph.NodeHandler, error) {
	cfg := Args(args)
	field := cfg.String("field", "")
	if field == "" {
		return nil, fmt.Errorf("increment: args.field is required")
	}
	by := cfg.Float("by", 1)
	return stategraph.HandlerFunc(func(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
		n, _ := st[field].AsNumber()
		return state.Map{field: state.Number(n + by)}, nil
	}), nil
}
