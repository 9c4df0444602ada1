package agents

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/canvas"
	"github.com/haasonsaas/loom/internal/knowledge"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/sessions"
	"github.com/haasonsaas/loom/internal/tools/admin"
)

type stubProvider struct{}

func (stubProvider) Name() string          { return "stub" }
func (stubProvider) Models() []agent.Model { return nil }
func (stubProvider) SupportsTools() bool   { return true }

func (stubProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func testRunner(t *testing.T) *agent.Runner {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	runner, err := agent.NewRunner(agent.RunnerConfig{
		Provider: stubProvider{},
		Sessions: sessions.NewMemoryService(),
		AppName:  "loom-test",
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return runner
}

func testIndex(t *testing.T) *knowledge.Index {
	t.Helper()
	idx, err := knowledge.NewIndex(knowledge.Config{
		Embedding: func(context.Context, string) ([]float32, error) {
			return []float32{1}, nil
		},
	})
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	return idx
}

func toolNames(a *agent.Agent) map[string]bool {
	names := make(map[string]bool, len(a.Tools))
	for _, tool := range a.Tools {
		names[tool.Name()] = true
	}
	return names
}

func TestBuildTreeShape(t *testing.T) {
	root, err := Build(testRunner(t), Config{
		ModelSmart: "gemini-2.5-pro",
		Store:      canvas.NewMemoryStore(),
		Index:      testIndex(t),
		Admin:      admin.Config{Env: "dev", LogPath: "loom.log"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if root.Name != "orchestrator" {
		t.Errorf("root = %s", root.Name)
	}
	wantSubs := []string{"chat_summarizer", "canvas_manager", "maintenance_agent", "disney_facilitator"}
	if len(root.SubAgents) != len(wantSubs) {
		t.Fatalf("sub-agents = %d, want %d", len(root.SubAgents), len(wantSubs))
	}
	for i, name := range wantSubs {
		if root.SubAgents[i].Name != name {
			t.Errorf("sub[%d] = %s, want %s", i, root.SubAgents[i].Name, name)
		}
		if root.SubAgents[i].Model != "gemini-2.5-pro" {
			t.Errorf("sub[%d] model = %s", i, root.SubAgents[i].Model)
		}
	}

	summarizer := root.FindSubAgent("chat_summarizer")
	if names := toolNames(summarizer); !names["fetch_elements"] || !names["fetch_documents"] {
		t.Errorf("summarizer tools = %v", names)
	}

	manager := root.FindSubAgent("canvas_manager")
	names := toolNames(manager)
	for _, want := range []string{
		"fetch_elements", "get_current_canvas_info", "set_canvas_name",
		"create_canvas_frame", "set_frame_name", "list_canvas_frames",
		"add_element_to_frame", "remove_element_from_frame",
		"set_element_name", "create_element", "edit_element",
	} {
		if !names[want] {
			t.Errorf("canvas_manager missing tool %s", want)
		}
	}

	maintenance := root.FindSubAgent("maintenance_agent")
	if names := toolNames(maintenance); !names["check_version_status"] || !names["restart_application"] {
		t.Errorf("maintenance tools = %v", names)
	}

	facilitator := root.FindSubAgent("disney_facilitator")
	if names := toolNames(facilitator); !names["canvas_manager"] || !names["fetch_elements"] {
		t.Errorf("facilitator tools = %v", names)
	}
	wantTrio := []string{"disney_dreamer", "disney_realist", "disney_critic"}
	for i, name := range wantTrio {
		if facilitator.SubAgents[i].Name != name {
			t.Errorf("facilitator sub[%d] = %s, want %s", i, facilitator.SubAgents[i].Name, name)
		}
	}
}

func TestBuildWithoutIndexSkipsKnowledgeTools(t *testing.T) {
	root, err := Build(testRunner(t), Config{
		Store: canvas.NewMemoryStore(),
		Admin: admin.Config{Env: "dev"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if names := toolNames(root.FindSubAgent("chat_summarizer")); names["fetch_documents"] {
		t.Error("fetch_documents wired without an index")
	}
}

func TestBuildAppliesOverrides(t *testing.T) {
	root, err := Build(testRunner(t), Config{
		Store: canvas.NewMemoryStore(),
		Admin: admin.Config{Env: "dev"},
		Overrides: map[string]string{
			"disney_dreamer": "Dream bigger.",
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dreamer := root.FindSubAgent("disney_facilitator").FindSubAgent("disney_dreamer")
	if dreamer.Instruction != "Dream bigger." {
		t.Errorf("Instruction = %q", dreamer.Instruction)
	}
	if root.Instruction == "" || root.Instruction == "Dream bigger." {
		t.Errorf("unrelated agent touched: %q", root.Instruction)
	}
}

func TestQAAgent(t *testing.T) {
	qa, err := QA(Config{Index: testIndex(t), ModelFast: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("QA() error = %v", err)
	}
	if names := toolNames(qa); !names["search_knowledge_base"] {
		t.Errorf("qa tools = %v", names)
	}

	if _, err := QA(Config{}); err == nil {
		t.Error("expected error without index")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  orchestrator:
    instruction: "Route for ${LOOM_TEST_APP}."
  disney_critic:
    instruction: ""
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOOM_TEST_APP", "loom")

	overrides, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	if overrides["orchestrator"] != "Route for loom." {
		t.Errorf("orchestrator = %q", overrides["orchestrator"])
	}
	if _, ok := overrides["disney_critic"]; ok {
		t.Error("empty instruction should be dropped")
	}
}

func TestLoadOverridesMissingFile(t *testing.T) {
	overrides, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || overrides != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", overrides, err)
	}
}

func TestLoadOverridesBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte("agents: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOverrides(path); err == nil {
		t.Error("expected parse error")
	}
}
