// Package gitexec implements the pipeline's git step by shelling out to
// the git CLI against a project's working copy.
package gitexec

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Runner executes git operations in a working copy. It implements
// step.GitStep.
type Runner struct {
	userName  string
	userEmail string
}

// New creates a Runner committing with the given identity.
func New(userName, userEmail string) *Runner {
	return &Runner{userName: userName, userEmail: userEmail}
}

func (r *Runner) git(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DetectMainBranch returns the first existing branch among the usual main
// branch names.
func (r *Runner) DetectMainBranch(ctx context.Context, repoPath string) (string, error) {
	for _, name := range []string{"main", "master", "dev", "development"} {
		if _, err := r.git(ctx, repoPath, "rev-parse", "--verify", "refs/heads/"+name); err == nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no main branch found in %s", repoPath)
}

// Sync checks out the main branch and pulls the latest changes.
func (r *Runner) Sync(ctx context.Context, repoPath, mainBranch string) error {
	if mainBranch == "" {
		detected, err := r.DetectMainBranch(ctx, repoPath)
		if err != nil {
			return err
		}
		mainBranch = detected
	}
	if _, err := r.git(ctx, repoPath, "checkout", mainBranch); err != nil {
		return err
	}
	// Remote might not exist for local-only projects.
	if _, err := r.git(ctx, repoPath, "remote", "get-url", "origin"); err != nil {
		return nil
	}
	_, err := r.git(ctx, repoPath, "pull", "--rebase", "origin", mainBranch)
	return err
}

// CreateBranch creates and checks out a feature branch. An existing branch
// with the same name is reset: a re-run of branch creation must not fail on
// the leftovers of a previous attempt.
func (r *Runner) CreateBranch(ctx context.Context, repoPath, branch string) error {
	_, err := r.git(ctx, repoPath, "checkout", "-B", branch)
	return err
}

// CommitPush stages everything, commits with the configured identity, and
// pushes the branch. Returns the new commit hash.
func (r *Runner) CommitPush(ctx context.Context, repoPath, branch, message string) (string, error) {
	if _, err := r.git(ctx, repoPath, "add", "-A"); err != nil {
		return "", err
	}

	commitArgs := []string{
		"-c", "user.name=" + r.userName,
		"-c", "user.email=" + r.userEmail,
		"commit", "-m", message,
	}
	if _, err := r.git(ctx, repoPath, commitArgs...); err != nil {
		return "", err
	}

	hash, err := r.git(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}

	if _, err := r.git(ctx, repoPath, "remote", "get-url", "origin"); err == nil {
		if _, err := r.git(ctx, repoPath, "push", "-u", "origin", branch); err != nil {
			return "", err
		}
	}

	return hash, nil
}

var (
	branchStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	branchCollapse = regexp.MustCompile(`\s+`)
)

// BranchName derives a feature branch name from a task description:
// lowercased, special characters stripped, spaces hyphenated, capped at 50
// characters.
func BranchName(description string) string {
	name := strings.ToLower(description)
	name = branchStrip.ReplaceAllString(name, "")
	name = branchCollapse.ReplaceAllString(strings.TrimSpace(name), "-")
	if len(name) > 50 {
		name = name[:50]
	}
	name = strings.Trim(name, "-")
	if name == "" {
		name = "task"
	}
	return "feature/" + name
}

// CommitMessage builds a commit message from the task description and the
// touched files.
func CommitMessage(description string, filesCreated, filesModified []string) string {
	var b strings.Builder
	b.WriteString(summarize(description, 72))
	if len(filesCreated)+len(filesModified) > 0 {
		b.WriteString("\n\n")
		for _, f := range filesCreated {
			fmt.Fprintf(&b, "Add %s\n", f)
		}
		for _, f := range filesModified {
			fmt.Fprintf(&b, "Update %s\n", f)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarize(s string, max int) string {
	s = strings.TrimSpace(strings.Split(s, "\n")[0])
	if len(s) > max {
		s = strings.TrimSpace(s[:max])
	}
	return s
}
