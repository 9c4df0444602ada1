package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// scriptedRunner answers git invocations from a canned table keyed by the
// subcommand.
func scriptedRunner(outputs map[string]string, fails map[string]string) commandRunner {
	return func(_ context.Context, _, name string, args ...string) (string, string, error) {
		key := name
		if len(args) > 0 {
			key = args[0]
		}
		if stderr, ok := fails[key]; ok {
			return "", stderr, errors.New("exit status 1")
		}
		return outputs[key], "", nil
	}
}

func TestVersionStatusUpToDate(t *testing.T) {
	tool := &VersionStatusTool{run: scriptedRunner(map[string]string{
		"status":    "On branch main\nYour branch is up to date with 'origin/main'.",
		"rev-parse": "main\n",
		"log":       "",
	}, nil)}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "**Branch:** main") {
		t.Errorf("missing branch line: %q", result.Content)
	}
	if !strings.Contains(result.Content, "Up to date with remote.") {
		t.Errorf("missing status line: %q", result.Content)
	}
}

func TestVersionStatusBehindRemote(t *testing.T) {
	tool := &VersionStatusTool{run: scriptedRunner(map[string]string{
		"status":    "On branch main\nYour branch is behind 'origin/main' by 2 commits.",
		"rev-parse": "main\n",
		"log":       "abc123 fix crash\ndef456 add feature\n",
	}, nil)}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "Behind by 2 commits.") {
		t.Errorf("missing behind count: %q", result.Content)
	}
	if !strings.Contains(result.Content, "Pending Updates:") ||
		!strings.Contains(result.Content, "abc123 fix crash") {
		t.Errorf("missing pending commits: %q", result.Content)
	}
}

func TestVersionStatusLocalChanges(t *testing.T) {
	tool := &VersionStatusTool{run: scriptedRunner(map[string]string{
		"status":    "On branch main\nChanges not staged for commit:\n  modified: main.go",
		"rev-parse": "main\n",
		"log":       "",
	}, nil)}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "Local Changes Detected") {
		t.Errorf("missing local changes warning: %q", result.Content)
	}
}

func TestVersionStatusFetchFailure(t *testing.T) {
	tool := &VersionStatusTool{run: scriptedRunner(nil, map[string]string{
		"fetch": "fatal: unable to access remote",
	})}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(result.Content, "ERROR: Git fetch failed.") {
		t.Errorf("result = %q", result.Content)
	}
}

func TestUpdateCodebaseGatedOutsideProd(t *testing.T) {
	tool := &UpdateCodebaseTool{env: "dev", run: func(context.Context, string, string, ...string) (string, string, error) {
		panic("git must not run outside prod")
	}}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "SKIPPED: Not in production environment. Update skipped." {
		t.Errorf("result = %q", result.Content)
	}
}

func TestUpdateCodebaseProd(t *testing.T) {
	tool := &UpdateCodebaseTool{env: EnvProd, run: scriptedRunner(map[string]string{
		"pull": "Updating abc123..def456\nFast-forward\n",
	}, nil)}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(result.Content, "SUCCESS: Codebase updated.") {
		t.Errorf("result = %q", result.Content)
	}

	failing := &UpdateCodebaseTool{env: EnvProd, run: scriptedRunner(nil, map[string]string{
		"pull": "error: merge conflict",
	})}
	result, _ = failing.Execute(context.Background(), nil)
	if !strings.HasPrefix(result.Content, "ERROR: Git pull failed.") {
		t.Errorf("result = %q", result.Content)
	}
}

func TestRestartGatedOutsideProd(t *testing.T) {
	called := false
	tool := &RestartTool{env: "dev", exit: func(int) { called = true }}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if called {
		t.Error("exit called outside prod")
	}
	if result.Content != "SKIPPED: Not in production environment. Restart skipped." {
		t.Errorf("result = %q", result.Content)
	}
}

func TestRestartProdExits(t *testing.T) {
	var code = -1
	tool := &RestartTool{env: EnvProd, exit: func(c int) { code = c }}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if result.Content != "Restarting..." {
		t.Errorf("result = %q", result.Content)
	}
}

func TestRecentLogsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.log")
	var lines []string
	for i := 1; i <= 60; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tool := &RecentLogsTool{logPath: path}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"lines": 3}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "line 58\nline 59\nline 60" {
		t.Errorf("tail = %q", result.Content)
	}

	// Default keeps the last 50.
	result, _ = tool.Execute(context.Background(), nil)
	got := strings.Split(result.Content, "\n")
	if len(got) != 50 || got[0] != "line 11" {
		t.Errorf("default tail starts at %q with %d lines", got[0], len(got))
	}
}

func TestRecentLogsMissingFile(t *testing.T) {
	tool := &RecentLogsTool{logPath: filepath.Join(t.TempDir(), "absent.log")}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "not found") {
		t.Errorf("result = %+v", result)
	}
}

func TestToolsReturnsFullSet(t *testing.T) {
	tools := Tools(Config{Env: "dev", LogPath: "loom.log"})
	want := []string{"check_version_status", "update_codebase", "restart_application", "get_recent_logs"}
	if len(tools) != len(want) {
		t.Fatalf("len = %d, want %d", len(tools), len(want))
	}
	for i, tool := range tools {
		if tool.Name() != want[i] {
			t.Errorf("tools[%d] = %s, want %s", i, tool.Name(), want[i])
		}
	}
}
