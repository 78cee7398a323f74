package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/m4xw311/shellmind/errors"
)

// DevOpsTools are the binaries whose presence is reported in the environment
// summary.
var DevOpsTools = []string{
	"git", "docker", "kubectl", "terraform", "aws",
	"gcloud", "helm", "brew", "apt", "python", "node",
}

type InstalledTool struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// Environment describes the host the assistant runs on.
type Environment struct {
	OS        string          `json:"os"`
	Release   string          `json:"os_release,omitempty"`
	Arch      string          `json:"arch"`
	Shell     string          `json:"shell"`
	Cwd       string          `json:"cwd"`
	Tools     []InstalledTool `json:"installed_tools"`
	GitBranch string          `json:"git_branch,omitempty"`
	GitStatus string          `json:"git_status,omitempty"`
}

// DetectEnvironment inspects the current process environment. lookPath is
// exec.LookPath when nil.
func DetectEnvironment(lookPath func(string) (string, error)) Environment {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	env := Environment{
		OS:      runtime.GOOS,
		Release: osRelease(),
		Arch:    runtime.GOARCH,
		Shell:   os.Getenv("SHELL"),
	}
	if env.Shell == "" {
		env.Shell = "unknown"
		if runtime.GOOS == "windows" {
			env.Shell = "cmd"
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		env.Cwd = cwd
	}
	for _, name := range DevOpsTools {
		_, err := lookPath(name)
		env.Tools = append(env.Tools, InstalledTool{Name: name, Installed: err == nil})
	}
	if env.Cwd != "" {
		if repo, err := InspectRepo(env.Cwd, 0); err == nil {
			env.GitBranch = repo.Branch
			env.GitStatus = "clean"
			if repo.Dirty {
				env.GitStatus = "dirty"
			}
		}
	}
	return env
}

func osRelease() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// Summary renders the environment as a short block for the system prompt.
func (e Environment) Summary() string {
	var installed, missing []string
	for _, t := range e.Tools {
		if t.Installed {
			installed = append(installed, t.Name)
		} else {
			missing = append(missing, t.Name)
		}
	}
	var b strings.Builder
	osLine := e.OS
	if e.Release != "" {
		osLine += " (" + e.Release + ")"
	}
	fmt.Fprintf(&b, "- OS: %s %s\n", osLine, e.Arch)
	fmt.Fprintf(&b, "- Shell: %s\n", e.Shell)
	fmt.Fprintf(&b, "- Working directory: %s\n", e.Cwd)
	fmt.Fprintf(&b, "- Installed tools: %s\n", joinOrNone(installed))
	fmt.Fprintf(&b, "- Not installed: %s", joinOrNone(missing))
	if e.GitBranch != "" {
		fmt.Fprintf(&b, "\n- Git: branch %s, %s", e.GitBranch, e.GitStatus)
	}
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// EnvDetectorTool re-runs environment detection on demand.
type EnvDetectorTool struct {
	detect func() Environment
}

func NewEnvDetectorTool() *EnvDetectorTool {
	return &EnvDetectorTool{detect: func() Environment { return DetectEnvironment(nil) }}
}

func (t *EnvDetectorTool) Name() string { return "env_detector" }
func (t *EnvDetectorTool) Description() string {
	return "Reports the OS, shell, working directory, git branch and which DevOps CLIs (git, docker, kubectl, terraform, aws, gcloud, helm, ...) are installed. " +
		"Use it before proposing commands that depend on the platform or on a specific tool."
}

func (t *EnvDetectorTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *EnvDetectorTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	b, err := json.MarshalIndent(t.detect(), "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode environment")
	}
	return string(b), nil
}
