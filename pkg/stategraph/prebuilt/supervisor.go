package prebuilt

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Supervisor routing.
const (
	// FieldNext holds the worker the supervisor picked.
	FieldNext = "next"
	// Finish is the routing key that ends a supervisor run.
	Finish = "FINISH"

	supervisorNode = "supervisor"
)

var (
	// ErrNoWorkers indicates NewSupervisor was called without workers.
	ErrNoWorkers = errors.New("at least one worker is required")

	// ErrUnknownWorker indicates the supervisor reply named no worker.
	ErrUnknownWorker = errors.New("supervisor chose no known worker")
)

// Worker is a node the supervisor can delegate to.
type Worker struct {
	Name        string
	Description string
	Handler     stategraph.NodeHandler
}

// NewSupervisor builds a hub graph: a "supervisor" node asks chat which
// worker acts next and records the choice in "next"; the chosen worker runs
// and returns control to the supervisor. Replying FINISH ends the run.
//
// Workers read and write state freely. The supervisor shows the model the
// task from "input" and the latest "output".
func NewSupervisor(chat stategraph.Chatter, workers []Worker, opts ...Option) (*stategraph.Graph, error) {
	if chat == nil {
		return nil, fmt.Errorf("supervisor: %w", stategraph.ErrNilHandler)
	}
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	for _, w := range workers {
		if w.Name == supervisorNode || strings.EqualFold(w.Name, Finish) {
			return nil, fmt.Errorf("worker %q: %w", w.Name, stategraph.ErrReservedNodeName)
		}
	}

	sup := &supervisor{chat: chat, workers: workers, opts: applyOptions(opts)}
	mapping := map[string]string{Finish: stategraph.END}
	for _, w := range workers {
		mapping[w.Name] = w.Name
	}

	return build(func(g *stategraph.Graph) {
		g.AddNode(supervisorNode, sup)
		for _, w := range workers {
			g.AddNode(w.Name, w.Handler)
			g.AddEdge(w.Name, supervisorNode)
		}
		g.AddConditionalEdge(supervisorNode, routeNext, mapping)
		g.SetEntryPoint(supervisorNode)
	})
}

func routeNext(_ stategraph.Context, st state.Map) string {
	next, _ := st[FieldNext].AsString()
	return next
}

type supervisor struct {
	chat    stategraph.Chatter
	workers []Worker
	opts    options
}

func (s *supervisor) Invoke(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
	reply, err := s.chat.Chat(ctx, s.prompt(st))
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	next, ok := s.choose(reply)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, strings.TrimSpace(reply))
	}
	ctx.Logger().Debug("supervisor routed", "next", next)
	return state.Map{FieldNext: state.String(next)}, nil
}

func (s *supervisor) prompt(st state.Map) string {
	var sb strings.Builder
	if s.opts.instructions != "" {
		sb.WriteString(s.opts.instructions)
		sb.WriteString("\n\n")
	}
	sb.WriteString("You coordinate these workers:\n")
	for _, w := range s.workers {
		fmt.Fprintf(&sb, "- %s: %s\n", w.Name, w.Description)
	}

	fmt.Fprintf(&sb, "\nTask: %s\n", text(st[s.opts.inputField]))
	if last, _ := st[FieldNext].AsString(); last != "" {
		if out, ok := st[s.opts.outputField]; ok {
			fmt.Fprintf(&sb, "\nLatest result from %s:\n%s\n", last, text(out))
		}
	}
	fmt.Fprintf(&sb, "\nReply with the name of the worker that should act next, or %s when the task is done.", Finish)
	return sb.String()
}

// choose returns the first worker name or FINISH among the reply's words.
func (s *supervisor) choose(reply string) (string, bool) {
	words := strings.FieldsFunc(reply, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.'
	})
	for _, word := range words {
		word = strings.Trim(word, ".-")
		if strings.EqualFold(word, Finish) {
			return Finish, true
		}
		for _, w := range s.workers {
			if strings.EqualFold(word, w.Name) {
				return w.Name, true
			}
		}
	}
	return "", false
}

func text(v state.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if v.IsNull() {
		return ""
	}
	return v.String()
}
