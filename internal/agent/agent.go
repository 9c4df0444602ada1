package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Agent is a declarative agent definition: a model, an instruction, the
// tools it may call, and the sub-agents it can transfer the conversation
// to. Agents form a tree; the runner walks it at turn time.
type Agent struct {
	Name        string
	Model       string
	Description string
	Instruction string
	Tools       []Tool
	SubAgents   []*Agent
}

// FindSubAgent returns the direct sub-agent with the given name, or nil.
func (a *Agent) FindSubAgent(name string) *Agent {
	for _, sub := range a.SubAgents {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// Validate checks the agent tree rooted at a: every agent must have a
// name and a model, names must be unique across the tree, and the
// delegation graph (sub-agents plus agents wrapped as tools) must be
// acyclic.
func (a *Agent) Validate() error {
	seen := make(map[string]bool)
	onPath := make(map[*Agent]bool)
	return validate(a, seen, onPath)
}

func validate(a *Agent, seen map[string]bool, onPath map[*Agent]bool) error {
	if a == nil {
		return fmt.Errorf("nil agent in tree")
	}
	if a.Name == "" {
		return fmt.Errorf("agent missing name")
	}
	if a.Model == "" {
		return fmt.Errorf("agent %s: missing model", a.Name)
	}
	if onPath[a] {
		return fmt.Errorf("agent %s: delegation cycle", a.Name)
	}
	if seen[a.Name] {
		return fmt.Errorf("agent %s: duplicate name in tree", a.Name)
	}
	seen[a.Name] = true
	onPath[a] = true
	defer delete(onPath, a)

	for _, sub := range a.SubAgents {
		if err := validate(sub, seen, onPath); err != nil {
			return err
		}
	}
	for _, tool := range a.Tools {
		at, ok := tool.(*AgentTool)
		if !ok {
			continue
		}
		if onPath[at.target] {
			return fmt.Errorf("agent %s: delegation cycle through tool %s", a.Name, at.Name())
		}
		if !seen[at.target.Name] {
			if err := validate(at.target, seen, onPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// AgentTool exposes an agent as a callable tool of another agent. The
// caller's model passes a request string; the wrapped agent runs a full
// tool loop on the same session and its final text becomes the result.
type AgentTool struct {
	runner *Runner
	target *Agent
}

// NewAgentTool wraps target so it can be listed among a parent's tools.
func NewAgentTool(runner *Runner, target *Agent) *AgentTool {
	return &AgentTool{runner: runner, target: target}
}

func (t *AgentTool) Name() string { return t.target.Name }

func (t *AgentTool) Description() string { return t.target.Description }

func (t *AgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"request": {
				"type": "string",
				"description": "The task or question to hand to this agent"
			}
		},
		"required": ["request"]
	}`)
}

func (t *AgentTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var args struct {
		Request string `json:"request"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return ErrorResult("invalid parameters: %v", err), nil
	}
	if args.Request == "" {
		return ErrorResult("request is required"), nil
	}

	sess := SessionFromContext(ctx)
	if sess == nil {
		return ErrorResult("no active session"), nil
	}

	// The parent turn already holds the session lock, so this goes
	// through the unlocked inner loop.
	messages := []CompletionMessage{{Role: "user", Content: args.Request}}
	text, err := t.runner.runLoop(ctx, t.target, sess, messages)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return ErrorResult("agent %s produced no response", t.target.Name), nil
	}
	return &ToolResult{Content: text}, nil
}
