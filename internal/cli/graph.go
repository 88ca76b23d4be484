package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/definition"
	"github.com/randalmurphal/stategraph/pkg/stategraph/llm"
	"github.com/randalmurphal/stategraph/pkg/stategraph/memory"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/prompt"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// loaded is a compiled definition plus the resources opened for it.
type loaded struct {
	def      *definition.Definition
	graph    *stategraph.CompiledGraph
	closers  []func() error
	storeURI string
}

func (l *loaded) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i]())
	}
	return errors.Join(errs...)
}

// loadOptions are the per-command overrides applied on top of a definition.
type loadOptions struct {
	checkpoint    string
	maxIterations int
	// openStores is false for commands that only inspect topology.
	openStores bool
}

// load parses, builds, and compiles the definition at path. The checkpoint
// store comes from the --checkpoint flag, then the definition, then the
// engine config.
func (a *app) load(ctx context.Context, path string, opts loadOptions) (*loaded, error) {
	stores := &memoryStores{ctx: ctx, open: opts.openStores}
	reg := a.registry(stores)

	def, err := definition.Load(path, reg)
	if err != nil {
		_ = stores.Close()
		return nil, exitError(exitValidation, "%v", err)
	}
	l := &loaded{def: def, closers: []func() error{stores.Close}}

	g, err := def.Build()
	if err != nil {
		_ = l.Close()
		return nil, exitError(exitValidation, "%v", err)
	}

	uri := firstNonEmpty(opts.checkpoint, def.Checkpoint, a.engine.Checkpoint)
	if uri != "" && opts.openStores {
		store, err := checkpoint.Open(ctx, uri)
		if err != nil {
			_ = l.Close()
			return nil, exitError(exitRuntime, "open checkpoint store: %v", err)
		}
		l.closers = append(l.closers, store.Close)
		l.storeURI = uri
		g.SetCheckpointer(store)
	}

	maxIter := def.MaxIterations
	if maxIter == 0 {
		maxIter = a.engine.MaxIterations
	}
	if opts.maxIterations > 0 {
		maxIter = opts.maxIterations
	}

	compiled, err := g.Compile(
		stategraph.WithMaxIterations(maxIter),
		stategraph.WithVerbose(a.engine.Verbose),
		stategraph.WithCompileLogger(a.logger),
	)
	if err != nil {
		_ = l.Close()
		return nil, exitError(exitValidation, "%s: %v", path, err)
	}
	l.graph = compiled
	return l, nil
}

// runOptions are the options every run started from the CLI carries.
// otelMetrics adds the OpenTelemetry recorder when metrics are enabled.
func (a *app) runOptions(otelMetrics bool) []stategraph.RunOption {
	opts := []stategraph.RunOption{stategraph.WithRunLogger(a.logger)}
	if len(a.values) > 0 {
		opts = append(opts, stategraph.WithConfigValues(a.values))
	}
	if otelMetrics && a.engine.Metrics {
		opts = append(opts, stategraph.WithMetrics(observability.NewMetricsRecorder()))
	}
	if a.engine.Tracing {
		opts = append(opts, stategraph.WithTracing(true))
	}
	return opts
}

// registry returns the built-in handlers plus the ones backed by an LLM
// and by memory stores.
func (a *app) registry(stores *memoryStores) *definition.Registry {
	reg := definition.NewRegistry()
	reg.MustRegister("claude", claudeHandler)
	reg.MustRegister("recall", func(args state.Map) (stategraph.NodeHandler, error) {
		cfg := definition.Args(args)
		key := cfg.String("key", "")
		if key == "" {
			return nil, fmt.Errorf("recall: args.key is required")
		}
		store, err := stores.get(cfg.String("store", "memory://"))
		if err != nil {
			return nil, fmt.Errorf("recall: %w", err)
		}
		return memory.Recall(store, key, cfg.String("field", key)), nil
	})
	reg.MustRegister("remember", func(args state.Map) (stategraph.NodeHandler, error) {
		cfg := definition.Args(args)
		field := cfg.String("field", "")
		if field == "" {
			return nil, fmt.Errorf("remember: args.field is required")
		}
		store, err := stores.get(cfg.String("store", "memory://"))
		if err != nil {
			return nil, fmt.Errorf("remember: %w", err)
		}
		return memory.Remember(store, field, cfg.String("key", field)), nil
	})
	return reg
}

// claudeHandler builds an agent node backed by the claude binary.
//
//	node "draft" {
//	  handler = "claude"
//	  args = {
//	    model        = "sonnet"
//	    system       = "You write release notes."
//	    prompt_field = "input"
//	    output_field = "draft"
//	    timeout      = "2m"
//	  }
//	}
//
// A prompt arg renders the prompt from a template instead of reading
// prompt_field. HCL interpolates ${...} itself, so placeholders are written
// $${field} in definition files.
func claudeHandler(args state.Map) (stategraph.NodeHandler, error) {
	cfg := definition.Args(args)

	var clientOpts []llm.ClaudeOption
	if d := cfg.Duration("timeout", 0); d > 0 {
		clientOpts = append(clientOpts, llm.WithTimeout(d))
	}
	if path := cfg.String("binary", ""); path != "" {
		clientOpts = append(clientOpts, llm.WithClaudePath(path))
	}
	if model := cfg.String("model", ""); model != "" {
		clientOpts = append(clientOpts, llm.WithModel(model))
	}
	if dir := cfg.String("workdir", ""); dir != "" {
		clientOpts = append(clientOpts, llm.WithWorkdir(dir))
	}

	retry := llm.DefaultRetry
	retry.MaxAttempts = cfg.Int("retries", retry.MaxAttempts)
	client := llm.NewRetryClient(llm.NewClaudeCLI(clientOpts...), retry)

	var chatOpts []llm.ChatOption
	if system := cfg.String("system", ""); system != "" {
		chatOpts = append(chatOpts, llm.WithSystemPrompt(system))
	}
	if n := cfg.Int("max_tokens", 0); n > 0 {
		chatOpts = append(chatOpts, llm.WithMaxTokens(n))
	}

	agentOpts := []stategraph.AgentOption{
		stategraph.WithPromptField(cfg.String("prompt_field", "input")),
		stategraph.WithOutputField(cfg.String("output_field", "output")),
	}
	if field := cfg.String("messages_field", ""); field != "" {
		agentOpts = append(agentOpts, stategraph.WithMessagesField(field))
	}
	if text := cfg.String("prompt", ""); text != "" {
		tmpl, err := prompt.New(text)
		if err != nil {
			return nil, fmt.Errorf("claude prompt: %w", err)
		}
		agentOpts = append(agentOpts, stategraph.WithPromptTemplate(tmpl))
	}
	return stategraph.NewAgentNode(llm.NewChat(client, chatOpts...), agentOpts...), nil
}

// memoryStores opens each memory store URI once per loaded graph.
type memoryStores struct {
	ctx  context.Context
	open bool

	mu      sync.Mutex
	stores  map[string]memory.Store
	closers []func() error
}

func (m *memoryStores) get(uri string) (memory.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[uri]; ok {
		return store, nil
	}
	if !m.open {
		return memory.NewInMemory(), nil
	}
	store, closeFn, err := memory.Open(m.ctx, uri)
	if err != nil {
		return nil, err
	}
	if m.stores == nil {
		m.stores = make(map[string]memory.Store)
	}
	m.stores[uri] = store
	m.closers = append(m.closers, closeFn)
	return store, nil
}

func (m *memoryStores) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	m.closers = nil
	return errors.Join(errs...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
