package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/m4xw311/shellmind/errors"
)

type CommitInfo struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// RepoInfo summarizes the git repository containing a directory.
type RepoInfo struct {
	Root    string       `json:"root"`
	Branch  string       `json:"branch"`
	Dirty   bool         `json:"dirty"`
	Changes []string     `json:"changes,omitempty"`
	Commits []CommitInfo `json:"commits,omitempty"`
	Remotes []string     `json:"remotes,omitempty"`
}

// InspectRepo opens the repository containing dir, walking up to find .git.
func InspectRepo(dir string, commits int) (*RepoInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrapf(err, "'%s' is not inside a git repository", dir)
	}
	info := &RepoInfo{}

	wt, err := repo.Worktree()
	if err == nil {
		info.Root = wt.Filesystem.Root()
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
			for path, st := range status {
				if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
					continue
				}
				info.Changes = append(info.Changes, fmt.Sprintf("%c%c %s", st.Staging, st.Worktree, path))
			}
			sort.Strings(info.Changes)
		}
	}

	head, err := repo.Head()
	if err != nil {
		// An empty repository has no HEAD yet.
		info.Branch = "(no commits)"
	} else {
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		} else {
			info.Branch = "(detached " + head.Hash().String()[:7] + ")"
		}
		iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
		if err == nil {
			_ = iter.ForEach(func(c *object.Commit) error {
				if len(info.Commits) >= commits {
					return errStopIter
				}
				info.Commits = append(info.Commits, CommitInfo{
					Hash:    c.Hash.String()[:7],
					Author:  c.Author.Name,
					Date:    c.Author.When.Format("2006-01-02 15:04"),
					Message: strings.TrimSpace(strings.SplitN(c.Message, "\n", 2)[0]),
				})
				return nil
			})
			iter.Close()
		}
	}

	if remotes, err := repo.Remotes(); err == nil {
		for _, r := range remotes {
			cfg := r.Config()
			info.Remotes = append(info.Remotes, fmt.Sprintf("%s %s", cfg.Name, strings.Join(cfg.URLs, ",")))
		}
		sort.Strings(info.Remotes)
	}
	return info, nil
}

var errStopIter = errors.Sentinel("stop")

// Format renders the repository summary for the model.
func (r *RepoInfo) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Branch: %s\n", r.Branch)
	state := "clean"
	if r.Dirty {
		state = "dirty"
	}
	fmt.Fprintf(&b, "Working tree: %s\n", state)
	for _, c := range r.Changes {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	if len(r.Commits) > 0 {
		b.WriteString("Recent commits:\n")
		for _, c := range r.Commits {
			fmt.Fprintf(&b, "  %s %s (%s, %s)\n", c.Hash, c.Message, c.Author, c.Date)
		}
	}
	if len(r.Remotes) > 0 {
		b.WriteString("Remotes:\n")
		for _, rm := range r.Remotes {
			fmt.Fprintf(&b, "  %s\n", rm)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// GitInfoTool reports branch, working tree state, recent commits and
// remotes of a repository.
type GitInfoTool struct {
	dir string
}

func NewGitInfoTool(dir string) *GitInfoTool {
	if dir == "" {
		dir = "."
	}
	return &GitInfoTool{dir: dir}
}

func (t *GitInfoTool) Name() string { return "git_info" }
func (t *GitInfoTool) Description() string {
	return "Shows the current git branch, whether the working tree is dirty, recent commits and remotes."
}

func (t *GitInfoTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "Directory inside the repository, default the current directory."},
			"commits": map[string]any{"type": "integer", "description": "Number of recent commits to list, default 5.", "minimum": 0, "maximum": 50},
		},
	}
}

func (t *GitInfoTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	dir, _ := stringArg(args, "path")
	if dir == "" {
		dir = t.dir
	}
	info, err := InspectRepo(dir, intArg(args, "commits", 5))
	if err != nil {
		return "", err
	}
	return info.Format(), nil
}
