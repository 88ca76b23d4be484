package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ClaudeCLI implements Client using the claude binary in print mode.
type ClaudeCLI struct {
	path         string
	model        string
	workdir      string
	timeout      time.Duration
	allowedTools []string
}

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a Claude CLI client.
// Assumes "claude" is on PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{
		path:    "claude",
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithModel sets the default model.
func WithModel(model string) ClaudeOption {
	return func(c *ClaudeCLI) { c.model = model }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) { c.timeout = d }
}

// WithAllowedTools sets the claude tools the CLI may use on its own.
func WithAllowedTools(tools []string) ClaudeOption {
	return func(c *ClaudeCLI) { c.allowedTools = tools }
}

// Complete implements Client.
func (c *ClaudeCLI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := c.command(ctx, req, "json")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), errors.Is(ctx.Err(), context.DeadlineExceeded))
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, NewError("complete", fmt.Errorf("%w: %s", err, msg), isRetryableMessage(msg))
	}

	resp, err := c.parseResult(stdout.Bytes())
	if err != nil {
		return nil, NewError("complete", err, isRetryableMessage(err.Error()))
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

// Stream implements Client.
func (c *ClaudeCLI) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	cmd := c.command(ctx, req, "stream-json")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewError("stream", fmt.Errorf("create stdout pipe: %w", err), false)
	}
	if err := cmd.Start(); err != nil {
		return nil, NewError("stream", fmt.Errorf("start command: %w", err), false)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = cmd.Wait() }()

		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				if !send(StreamChunk{Content: string(line) + "\n"}) {
					return
				}
				continue
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta != nil && ev.Delta.Text != "" {
					if !send(StreamChunk{Content: ev.Delta.Text}) {
						return
					}
				}
			case "result", "message_stop":
				usage := ev.Usage.total()
				send(StreamChunk{Done: true, Usage: &usage})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(StreamChunk{Error: NewError("stream", fmt.Errorf("read output: %w", err), false)})
			return
		}
		send(StreamChunk{Done: true})
	}()

	return ch, nil
}

func (c *ClaudeCLI) command(ctx context.Context, req CompletionRequest, format string) *exec.Cmd {
	args := append(c.buildArgs(req), "--output-format", format)
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.WaitDelay = time.Second
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}
	return cmd
}

// buildArgs constructs CLI arguments from a request. The CLI takes a single
// prompt, so the conversation is flattened into a transcript and tool
// descriptions are appended to the system prompt.
func (c *ClaudeCLI) buildArgs(req CompletionRequest) []string {
	args := []string{"--print"}

	if system := systemPrompt(req); system != "" {
		args = append(args, "--system-prompt", system)
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}

	for _, tool := range c.allowedTools {
		args = append(args, "--allowedTools", tool)
	}

	if prompt := transcript(req.Messages); prompt != "" {
		args = append(args, "-p", prompt)
	}
	return args
}

func systemPrompt(req CompletionRequest) string {
	if len(req.Tools) == 0 {
		return req.SystemPrompt
	}

	var sb strings.Builder
	sb.WriteString(req.SystemPrompt)
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString("You can use these tools:\n")
	for _, t := range req.Tools {
		fmt.Fprintf(&sb, "- %s: %s", t.Name, t.Description)
		if len(t.Parameters) > 0 {
			fmt.Fprintf(&sb, " (arguments: %s)", t.Parameters)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// transcript renders the messages. A single user turn is sent verbatim.
func transcript(msgs []Message) string {
	if len(msgs) == 1 && msgs[0].Role == RoleUser {
		return strings.TrimSpace(msgs[0].Content)
	}

	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			fmt.Fprintf(&sb, "User: %s\n\n", m.Content)
		case RoleAssistant:
			fmt.Fprintf(&sb, "Assistant: %s\n\n", m.Content)
		case RoleTool:
			fmt.Fprintf(&sb, "Observation (%s): %s\n\n", m.Name, m.Content)
		}
	}
	return strings.TrimSpace(sb.String())
}

// cliResult is the JSON document printed by --output-format json.
type cliResult struct {
	Type    string     `json:"type"`
	Subtype string     `json:"subtype"`
	IsError bool       `json:"is_error"`
	Result  string     `json:"result"`
	Usage   eventUsage `json:"usage"`
}

// parseResult extracts the reply. Output that is not a JSON result document
// is taken as plain text.
func (c *ClaudeCLI) parseResult(data []byte) (*CompletionResponse, error) {
	trimmed := bytes.TrimSpace(data)

	var res cliResult
	if err := json.Unmarshal(trimmed, &res); err != nil || res.Type == "" {
		return &CompletionResponse{
			Content:      string(trimmed),
			FinishReason: "stop",
			Model:        c.model,
		}, nil
	}
	if res.IsError {
		return nil, fmt.Errorf("claude returned %s: %s", res.Subtype, res.Result)
	}

	return &CompletionResponse{
		Content:      strings.TrimSpace(res.Result),
		FinishReason: "stop",
		Model:        c.model,
		Usage:        res.Usage.total(),
	}, nil
}

// isRetryableMessage checks if an error message indicates a transient error.
func isRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "timeout", "overloaded", "503", "529"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

type streamEvent struct {
	Type  string       `json:"type"`
	Delta *streamDelta `json:"delta,omitempty"`
	Usage eventUsage   `json:"usage"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type eventUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u eventUsage) total() TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
}
