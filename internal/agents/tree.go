// Package agents assembles the agent tree: the orchestrator routing to
// chat_summarizer, canvas_manager, maintenance_agent and the Disney
// Strategy facilitator with its dreamer/realist/critic trio.
package agents

import (
	"fmt"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/tools/admin"
	"github.com/haasonsaas/loom/internal/tools/canvasops"
	"github.com/haasonsaas/loom/internal/tools/elements"
	knowledgetools "github.com/haasonsaas/loom/internal/tools/knowledge"
)

// Config wires the tree's dependencies.
type Config struct {
	// ModelSmart drives the orchestrator and specialist agents;
	// ModelFast is used where latency matters more than depth.
	ModelSmart string
	ModelFast  string

	Store canvas.Store

	// Index is optional; without it the knowledge tools are left out.
	Index *knowledge.Index

	// Admin configures the maintenance tool set (environment gate,
	// repo dir, log path).
	Admin admin.Config

	// Overrides replaces embedded instructions by agent name.
	Overrides map[string]string
}

// Build constructs and validates the tree. The runner is needed up front
// because the facilitator carries canvas_manager as a tool.
func Build(runner *agent.Runner, cfg Config) (*agent.Agent, error) {
	if cfg.ModelSmart == "" {
		cfg.ModelSmart = "gemini-2.0-flash"
	}
	if cfg.ModelFast == "" {
		cfg.ModelFast = cfg.ModelSmart
	}

	fetch := elements.NewFetchTool(cfg.Store)

	summarizer := &agent.Agent{
		Name:        "chat_summarizer",
		Model:       cfg.ModelSmart,
		Description: "Agent responsible for summarizing chat history",
		Instruction: chatSummarizerInstruction,
		Tools:       []agent.Tool{fetch},
	}
	if cfg.Index != nil {
		summarizer.Tools = append(summarizer.Tools, knowledgetools.NewFetchDocumentsTool(cfg.Index))
	}

	canvasTools := append([]agent.Tool{fetch}, canvasops.Tools(cfg.Store)...)
	canvasManager := &agent.Agent{
		Name:        "canvas_manager",
		Model:       cfg.ModelSmart,
		Description: "Agent responsible for managing and organizing the canvas",
		Instruction: canvasManagerInstruction,
		Tools:       canvasTools,
	}

	maintenance := &agent.Agent{
		Name:        "maintenance_agent",
		Model:       cfg.ModelSmart,
		Description: "Agent for DevOps tasks: updating codebase, restarting application, and viewing logs.",
		Instruction: maintenanceInstruction,
		Tools:       admin.Tools(cfg.Admin),
	}

	dreamer := &agent.Agent{
		Name:        "disney_dreamer",
		Model:       cfg.ModelSmart,
		Description: "The Dreamer: Generates visionary ideas without constraints.",
		Instruction: dreamerInstruction,
	}
	realist := &agent.Agent{
		Name:        "disney_realist",
		Model:       cfg.ModelSmart,
		Description: "The Realist: Turns ideas into actionable plans.",
		Instruction: realistInstruction,
	}
	critic := &agent.Agent{
		Name:        "disney_critic",
		Model:       cfg.ModelSmart,
		Description: "The Critic: Quality Assurance, Risk Analysis, and Feasibility Check.",
		Instruction: criticInstruction,
	}

	facilitator := &agent.Agent{
		Name:        "disney_facilitator",
		Model:       cfg.ModelSmart,
		Description: "Facilitator for the Walt Disney Strategy (Dreamer -> Realist -> Critic).",
		Instruction: facilitatorInstruction,
		Tools: []agent.Tool{
			agent.NewAgentTool(runner, canvasManager),
			fetch,
		},
		SubAgents: []*agent.Agent{dreamer, realist, critic},
	}

	orchestrator := &agent.Agent{
		Name:        "orchestrator",
		Model:       cfg.ModelSmart,
		Description: "Orchestrator agent that routes user requests to specialized sub-agents.",
		Instruction: orchestratorInstruction,
		SubAgents:   []*agent.Agent{summarizer, canvasManager, maintenance, facilitator},
	}

	applyOverrides(orchestrator, cfg.Overrides)

	if err := orchestrator.Validate(); err != nil {
		return nil, fmt.Errorf("agents: invalid tree: %w", err)
	}
	return orchestrator, nil
}

// QA builds the standalone question-answering agent used by the /ask
// endpoint: it answers strictly from the chat's knowledge base.
func QA(cfg Config) (*agent.Agent, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("agents: qa agent requires a knowledge index")
	}
	model := cfg.ModelFast
	if model == "" {
		model = "gemini-2.0-flash"
	}
	qa := &agent.Agent{
		Name:        "qa",
		Model:       model,
		Description: "Answers questions strictly from the chat's knowledge base.",
		Instruction: "You are a question answering assistant.\n" +
			"Use `search_knowledge_base` to find relevant fragments, then answer " +
			"strictly from what it returns, citing the sources it lists. " +
			"If nothing relevant is found, say so plainly. Answer in the user's language.",
		Tools: []agent.Tool{knowledgetools.NewSearchTool(cfg.Index)},
	}
	if err := qa.Validate(); err != nil {
		return nil, err
	}
	return qa, nil
}

func applyOverrides(root *agent.Agent, overrides map[string]string) {
	if len(overrides) == 0 {
		return
	}
	visit(root, func(a *agent.Agent) {
		if instruction, ok := overrides[a.Name]; ok && instruction != "" {
			a.Instruction = instruction
		}
	})
}

func visit(a *agent.Agent, fn func(*agent.Agent)) {
	fn(a)
	for _, sub := range a.SubAgents {
		visit(sub, fn)
	}
}
