// Package admin implements the maintenance agent's operational tools:
// version status against the remote repository, codebase update, process
// restart and log tailing. The mutating tools act only when the runtime
// environment is "prod"; elsewhere they report being skipped.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/haasonsaas/loom/internal/agent"
)

// EnvProd is the environment value that arms the mutating tools.
const EnvProd = "prod"

const defaultLogLines = 50

// commandRunner executes an external command and returns its output.
// Injectable so tests never shell out.
type commandRunner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

func execRunner(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	return out.String(), errOut.String(), err
}

// Config wires the admin tool set.
type Config struct {
	// Env is the runtime environment; mutating tools require EnvProd.
	Env string

	// RepoDir is the working tree the git tools operate on.
	RepoDir string

	// LogPath is the application log file for the log tool.
	LogPath string

	// Exit terminates the process for the restart tool. Defaults to
	// os.Exit; injectable for tests.
	Exit func(code int)
}

// Tools returns the maintenance tool set.
func Tools(cfg Config) []agent.Tool {
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	run := commandRunner(execRunner)
	return []agent.Tool{
		&VersionStatusTool{repoDir: cfg.RepoDir, run: run},
		&UpdateCodebaseTool{env: cfg.Env, repoDir: cfg.RepoDir, run: run},
		&RestartTool{env: cfg.Env, exit: cfg.Exit},
		&RecentLogsTool{logPath: cfg.LogPath},
	}
}

func text(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...)}
}

// VersionStatusTool reports how the local checkout relates to the remote.
type VersionStatusTool struct {
	repoDir string
	run     commandRunner
}

func (t *VersionStatusTool) Name() string { return "check_version_status" }

func (t *VersionStatusTool) Description() string {
	return "Checks whether the codebase is up to date with the remote repository. Run this before updating."
}

func (t *VersionStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *VersionStatusTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	if _, stderr, err := t.run(ctx, t.repoDir, "git", "fetch"); err != nil {
		return text("ERROR: Git fetch failed.\n%s", stderr), nil
	}

	statusOut, _, _ := t.run(ctx, t.repoDir, "git", "status", "-uno")
	localStatus := strings.TrimSpace(statusOut)

	branchOut, _, _ := t.run(ctx, t.repoDir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	branch := strings.TrimSpace(branchOut)

	logOut, _, _ := t.run(ctx, t.repoDir, "git", "log", "HEAD..origin/"+branch, "--oneline")
	pending := strings.TrimSpace(logOut)

	var report []string
	report = append(report, fmt.Sprintf("**Branch:** %s", branch))
	switch {
	case strings.Contains(localStatus, "Your branch is up to date"):
		report = append(report, "✅ **Status:** Up to date with remote.")
	case pending != "":
		count := len(strings.Split(pending, "\n"))
		report = append(report, fmt.Sprintf("⚠️ **Status:** Behind by %d commits.", count))
	default:
		report = append(report, "ℹ️ **Status:** Local state differs (possibly ahead or diverged).")
	}

	if pending != "" {
		report = append(report, "\n**Pending Updates:**", pending)
	}
	if strings.Contains(localStatus, "Changes not staged for commit") ||
		strings.Contains(localStatus, "Changes to be committed") {
		report = append(report, "\n⚠️ **Local Changes Detected:**",
			"There are uncommitted local changes on the server.")
	}
	return text("%s", strings.Join(report, "\n")), nil
}

// UpdateCodebaseTool pulls the latest code. Prod only.
type UpdateCodebaseTool struct {
	env     string
	repoDir string
	run     commandRunner
}

func (t *UpdateCodebaseTool) Name() string { return "update_codebase" }

func (t *UpdateCodebaseTool) Description() string {
	return "Updates the codebase from the remote repository with git pull. Only works in production."
}

func (t *UpdateCodebaseTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *UpdateCodebaseTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	if t.env != EnvProd {
		return text("SKIPPED: Not in production environment. Update skipped."), nil
	}
	stdout, stderr, err := t.run(ctx, t.repoDir, "git", "pull")
	if err != nil {
		return text("ERROR: Git pull failed.\n%s", stderr), nil
	}
	return text("SUCCESS: Codebase updated.\n%s", stdout), nil
}

// RestartTool terminates the process; a supervisor is expected to bring
// it back up. Prod only.
type RestartTool struct {
	env  string
	exit func(code int)
}

func (t *RestartTool) Name() string { return "restart_application" }

func (t *RestartTool) Description() string {
	return "Restarts the application process. Causes a brief downtime. Only works in production."
}

func (t *RestartTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *RestartTool) Execute(_ context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	if t.env != EnvProd {
		return text("SKIPPED: Not in production environment. Restart skipped."), nil
	}
	t.exit(0)
	return text("Restarting..."), nil
}

// RecentLogsTool tails the application log file.
type RecentLogsTool struct {
	logPath string
}

func (t *RecentLogsTool) Name() string { return "get_recent_logs" }

func (t *RecentLogsTool) Description() string {
	return "Reads the last N lines of the application log. Use this to diagnose issues or verify startup."
}

func (t *RecentLogsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"lines": {"type": "integer", "description": "Number of trailing lines to read (default 50)"}
		}
	}`)
}

func (t *RecentLogsTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Lines int `json:"lines"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return agent.ErrorResult("invalid parameters: %v", err), nil
		}
	}
	if args.Lines <= 0 {
		args.Lines = defaultLogLines
	}

	data, err := os.ReadFile(t.logPath)
	if err != nil {
		return agent.ErrorResult("Log file '%s' not found.", t.logPath), nil
	}
	return text("%s", tail(string(data), args.Lines)), nil
}

func tail(content string, n int) string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
