package gitexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmds := [][]string{
		{"git", "init", "-b", "main"},
		{"git", "config", "user.email", "test@test.com"},
		{"git", "config", "user.name", "Test"},
	}

	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("%v failed: %s", args, out)
		}
	}

	readme := filepath.Join(dir, "README.md")
	os.WriteFile(readme, []byte("# Test"), 0644)

	cmd := exec.Command("git", "add", ".")
	cmd.Dir = dir
	cmd.Run()

	cmd = exec.Command("git", "commit", "-m", "Initial commit")
	cmd.Dir = dir
	cmd.Run()

	return dir
}

func TestRunner_SyncAndBranch(t *testing.T) {
	repo := setupGitRepo(t)
	r := New("Taskpilot", "taskpilot@localhost")
	ctx := context.Background()

	// No origin configured: sync should still succeed.
	if err := r.Sync(ctx, repo, "main"); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if err := r.CreateBranch(ctx, repo, "feature/add-endpoint"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	out, err := r.git(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if out != "feature/add-endpoint" {
		t.Errorf("HEAD = %q, want feature/add-endpoint", out)
	}

	// Re-creating the same branch must not fail.
	if err := r.CreateBranch(ctx, repo, "feature/add-endpoint"); err != nil {
		t.Errorf("CreateBranch again: %v", err)
	}
}

func TestRunner_DetectMainBranch(t *testing.T) {
	repo := setupGitRepo(t)
	r := New("Taskpilot", "taskpilot@localhost")

	branch, err := r.DetectMainBranch(context.Background(), repo)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want main", branch)
	}
}

func TestRunner_CommitPush(t *testing.T) {
	repo := setupGitRepo(t)
	r := New("Taskpilot", "taskpilot@localhost")
	ctx := context.Background()

	if err := r.CreateBranch(ctx, repo, "feature/health"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repo, "health.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	hash, err := r.CommitPush(ctx, repo, "feature/health", "Add health check endpoint")
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 40 {
		t.Errorf("hash = %q, want 40-char sha", hash)
	}

	subject, err := r.git(ctx, repo, "log", "-1", "--format=%s")
	if err != nil {
		t.Fatal(err)
	}
	if subject != "Add health check endpoint" {
		t.Errorf("subject = %q", subject)
	}
	author, _ := r.git(ctx, repo, "log", "-1", "--format=%an")
	if author != "Taskpilot" {
		t.Errorf("author = %q, want Taskpilot", author)
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Add health check endpoint", "feature/add-health-check-endpoint"},
		{"Fix bug #42 (critical!)", "feature/fix-bug-42-critical"},
		{"   spaces   everywhere   ", "feature/spaces-everywhere"},
		{"!!!", "feature/task"},
	}
	for _, tt := range tests {
		if got := BranchName(tt.desc); got != tt.want {
			t.Errorf("BranchName(%q) = %q, want %q", tt.desc, got, tt.want)
		}
	}

	long := strings.Repeat("very long description ", 10)
	if got := BranchName(long); len(got) > len("feature/")+50 {
		t.Errorf("BranchName length = %d, want <= 58", len(got))
	}
}

func TestCommitMessage(t *testing.T) {
	msg := CommitMessage("Add health check endpoint", []string{"health.go"}, []string{"router.go"})
	if !strings.HasPrefix(msg, "Add health check endpoint") {
		t.Errorf("msg = %q", msg)
	}
	if !strings.Contains(msg, "Add health.go") || !strings.Contains(msg, "Update router.go") {
		t.Errorf("msg = %q", msg)
	}
}
