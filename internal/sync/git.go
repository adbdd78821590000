package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alfredjeanlab/opreport/internal/model"
)

// Commit identity used when the clone has no user configured.
const (
	gitAuthorName  = "opreport"
	gitAuthorEmail = "opreport@localhost"
)

// GitDestination commits report snapshots to a local clone and pushes them,
// so the repository history doubles as a report history.
type GitDestination struct {
	repo   string
	file   string // path template within the repo, see ExpandPath
	branch string
}

// NewGitDestination creates a git destination. repo is the path to an
// existing clone with an origin remote. file may use the ExpandPath
// placeholders, for example "reports/{project}/{date}.jsonl".
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

// Write stores data at the expanded path, commits and pushes. An unchanged
// snapshot produces no commit.
func (d *GitDestination) Write(ctx context.Context, run *model.ReportRun, data []byte) error {
	git := d.runner(ctx)
	if err := git("checkout", d.branch); err != nil {
		return err
	}
	// The remote may not have the branch yet.
	_ = git("pull", "--ff-only", "origin", d.branch)

	rel := ExpandPath(d.file, run)
	path := filepath.Join(d.repo, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if err := git("add", "--", rel); err != nil {
		return err
	}
	if err := git("diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if err := git("commit", "-m", CommitMessage(run)); err != nil {
		return err
	}
	return git("push", "origin", d.branch)
}

// runner returns a function running git in the clone. Failures carry git's
// output. Commits fall back to the opreport identity when the clone has no
// user configured.
func (d *GitDestination) runner(ctx context.Context) func(args ...string) error {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	probe := exec.CommandContext(ctx, "git", "config", "user.email")
	probe.Dir = d.repo
	if probe.Run() != nil {
		env = append(env,
			"GIT_AUTHOR_NAME="+gitAuthorName,
			"GIT_AUTHOR_EMAIL="+gitAuthorEmail,
			"GIT_COMMITTER_NAME="+gitAuthorName,
			"GIT_COMMITTER_EMAIL="+gitAuthorEmail,
		)
	}
	return func(args ...string) error {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = d.repo
		cmd.Env = env
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
		}
		return nil
	}
}

// CommitMessage describes run in a snapshot commit.
func CommitMessage(run *model.ReportRun) string {
	return fmt.Sprintf("sync: update report snapshot\n\nproject: %s\nrun: %s\ntasks: %d", run.ProjectID, run.RunID, run.TaskCount)
}
