package stategraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph/prompt"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Chatter is a chat collaborator: it answers a prompt with a reply.
// llm.Chat satisfies it.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyPrompt indicates an agent node found no prompt to send.
var ErrEmptyPrompt = errors.New("agent prompt is empty")

// AgentNode adapts a Chatter to NodeHandler.
type AgentNode struct {
	chat          Chatter
	promptField   string
	promptFunc    func(st state.Map) (string, error)
	outputField   string
	messagesField string
}

// AgentOption configures an AgentNode.
type AgentOption func(*AgentNode)

// WithPromptField reads the prompt from a string field. Default: "input".
func WithPromptField(field string) AgentOption {
	return func(a *AgentNode) {
		a.promptField = field
	}
}

// WithPromptFunc builds the prompt from the whole state. It overrides
// WithPromptField.
func WithPromptFunc(fn func(st state.Map) (string, error)) AgentOption {
	return func(a *AgentNode) {
		a.promptFunc = fn
	}
}

// WithPromptTemplate renders the prompt from a template over the state.
func WithPromptTemplate(t *prompt.Template) AgentOption {
	return WithPromptFunc(t.Render)
}

// WithOutputField writes the reply to a field. Default: "output".
func WithOutputField(field string) AgentOption {
	return func(a *AgentNode) {
		a.outputField = field
	}
}

// WithMessagesField also emits the user and assistant turns as
// {role, content} objects under field. Only the new turns are emitted, so
// declare the field with the append reducer to keep a transcript.
func WithMessagesField(field string) AgentOption {
	return func(a *AgentNode) {
		a.messagesField = field
	}
}

// NewAgentNode creates a node that sends a prompt built from the state to
// chat and writes the reply back.
//
// Example:
//
//	session := llm.NewChat(client, llm.WithSystemPrompt("Be brief."))
//	graph.AddNode("agent", stategraph.NewAgentNode(session,
//	    stategraph.WithPromptField("question"),
//	    stategraph.WithOutputField("answer")))
//
// Panics if chat is nil.
func NewAgentNode(chat Chatter, opts ...AgentOption) *AgentNode {
	if chat == nil {
		buildPanic("new agent node", "", ErrNilHandler)
	}
	a := &AgentNode{
		chat:        chat,
		promptField: "input",
		outputField: "output",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke implements NodeHandler.
func (a *AgentNode) Invoke(ctx Context, st state.Map, _ RunConfig) (state.Map, error) {
	prompt, err := a.prompt(st)
	if err != nil {
		return nil, err
	}

	reply, err := a.chat.Chat(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	update := state.Map{a.outputField: state.String(reply)}
	if a.messagesField != "" {
		update[a.messagesField] = state.List(
			message("user", prompt),
			message("assistant", reply),
		)
	}
	return update, nil
}

func (a *AgentNode) prompt(st state.Map) (string, error) {
	if a.promptFunc != nil {
		p, err := a.promptFunc(st)
		if err != nil {
			return "", fmt.Errorf("build prompt: %w", err)
		}
		if p == "" {
			return "", ErrEmptyPrompt
		}
		return p, nil
	}

	v, ok := st[a.promptField]
	if !ok {
		return "", fmt.Errorf("%w: field %q not set", ErrEmptyPrompt, a.promptField)
	}
	p, ok := v.AsString()
	if !ok {
		p = v.String()
	}
	if p == "" {
		return "", fmt.Errorf("%w: field %q", ErrEmptyPrompt, a.promptField)
	}
	return p, nil
}

func message(role, content string) state.Value {
	return state.Object(map[string]state.Value{
		"role":    state.String(role),
		"content": state.String(content),
	})
}
