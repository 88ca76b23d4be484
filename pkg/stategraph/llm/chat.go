package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateTool indicates a tool name registered twice on a Chat.
var ErrDuplicateTool = errors.New("tool already registered")

// Chat is a conversation with a model: a system prompt, registered tools and
// the turn history. Each Chat call sends the history plus the new prompt and
// records both turns on success.
//
// Chat guards its own fields, but two runs sharing one Chat interleave their
// turns in one history. Give each concurrent run its own Chat.
type Chat struct {
	client Client

	mu        sync.Mutex
	system    string
	model     string
	maxTokens int
	history   []Message
	tools     []Tool
	usage     TokenUsage
}

// ChatOption configures a Chat.
type ChatOption func(*Chat)

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) ChatOption {
	return func(c *Chat) { c.system = prompt }
}

// WithChatModel sets the model for every request.
func WithChatModel(model string) ChatOption {
	return func(c *Chat) { c.model = model }
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) ChatOption {
	return func(c *Chat) { c.maxTokens = n }
}

// WithHistory seeds the conversation.
func WithHistory(msgs []Message) ChatOption {
	return func(c *Chat) { c.history = append([]Message(nil), msgs...) }
}

// NewChat creates a session over client.
func NewChat(client Client, opts ...ChatOption) *Chat {
	c := &Chat{client: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends prompt and returns the reply.
func (c *Chat) Chat(ctx context.Context, prompt string) (string, error) {
	user := Message{Role: RoleUser, Content: prompt}

	c.mu.Lock()
	req := CompletionRequest{
		SystemPrompt: c.system,
		Messages:     append(append([]Message(nil), c.history...), user),
		Model:        c.model,
		MaxTokens:    c.maxTokens,
		Tools:        append([]Tool(nil), c.tools...),
	}
	c.mu.Unlock()

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.history = append(c.history, user, Message{Role: RoleAssistant, Content: resp.Content})
	c.usage.Add(resp.Usage)
	c.mu.Unlock()

	return resp.Content, nil
}

// AddToolResult records a tool observation in the history.
func (c *Chat) AddToolResult(name, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, Message{Role: RoleTool, Name: name, Content: result})
}

// History returns a copy of the turns so far.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history...)
}

// ReplaceHistory swaps in a new turn list.
func (c *Chat) ReplaceHistory(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]Message(nil), msgs...)
}

// Reset clears the history and usage.
func (c *Chat) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.usage = TokenUsage{}
}

// RegisterTool makes a tool available to the model.
func (c *Chat) RegisterTool(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.tools {
		if existing.Name == t.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name)
		}
	}
	c.tools = append(c.tools, t)
	return nil
}

// Tools returns the registered tools in registration order.
func (c *Chat) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tool(nil), c.tools...)
}

// SystemPrompt returns the system prompt.
func (c *Chat) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system
}

// Usage returns tokens consumed by this session.
func (c *Chat) Usage() TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
