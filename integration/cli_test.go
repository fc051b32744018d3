//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	// Look for the binary in common locations
	paths := []string{
		"../taskpilot",
		"./taskpilot",
		filepath.Join(os.Getenv("GOPATH"), "bin", "taskpilot"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	// Try to build it
	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../taskpilot", "../cmd/taskpilot")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../taskpilot")
	return abs
}

// createTestConfig creates a temporary config file for testing
func createTestConfig(t *testing.T, dbPath string) string {
	t.Helper()
	configPath := TempConfigPath(t)
	base := filepath.Dir(dbPath)

	config := `[general]
database_path = "` + dbPath + `"
plans_dir = "` + filepath.Join(base, "plans") + `"
reports_dir = "` + filepath.Join(base, "reports") + `"
workers = 1

[agent]
command = "claude"
max_iterations = 2

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return configPath
}

var projectIDPattern = regexp.MustCompile(`Registered project (\S+)`)

// registerProject adds a project and returns its generated ID
func registerProject(t *testing.T, binary, configPath string) string {
	t.Helper()
	cmd := exec.Command(binary, "project", "add",
		"--name", "demo",
		"--path", TempProjectDir(t),
		"--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("project add failed: %v\n%s", err, out)
	}

	m := projectIDPattern.FindStringSubmatch(string(out))
	if m == nil {
		t.Fatalf("Expected project ID in output, got: %s", out)
	}
	return m[1]
}

// TestCLI_ProjectAddAndList tests project registration
func TestCLI_ProjectAddAndList(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))

	projectID := registerProject(t, binary, configPath)

	cmd := exec.Command(binary, "project", "list", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("project list failed: %v\n%s", err, out)
	}

	output := string(out)
	if !strings.Contains(output, projectID) {
		t.Errorf("Expected project %s in output, got: %s", projectID, output)
	}
	if !strings.Contains(output, "demo") {
		t.Errorf("Expected project name in output, got: %s", output)
	}
	// Branch defaults to main when not given
	if !strings.Contains(output, "main") {
		t.Errorf("Expected default branch in output, got: %s", output)
	}
}

// TestCLI_TaskCreate tests task creation against a registered project
func TestCLI_TaskCreate(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectID := registerProject(t, binary, configPath)

	cmd := exec.Command(binary, "task", "create", "Add CSV export endpoint",
		"--project", projectID,
		"--priority", "high",
		"--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task create failed: %v\n%s", err, out)
	}

	if !strings.Contains(string(out), "Created task") {
		t.Errorf("Expected 'Created task' in output, got: %s", out)
	}
	if !strings.Contains(string(out), "execution queued") {
		t.Errorf("Expected queued notice in output, got: %s", out)
	}
}

// TestCLI_TaskCreateUnknownProject tests that task creation validates the project
func TestCLI_TaskCreateUnknownProject(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))

	cmd := exec.Command(binary, "task", "create", "Do something",
		"--project", "nope",
		"--config", configPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("Expected task create to fail for unknown project, got: %s", out)
	}
}

// TestCLI_TaskCreateFromTemplate tests template-based task creation
func TestCLI_TaskCreateFromTemplate(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectID := registerProject(t, binary, configPath)

	cmd := exec.Command(binary, "task", "create",
		"--project", projectID,
		"--template", "deps",
		"--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task create --template failed: %v\n%s", err, out)
	}

	if !strings.Contains(string(out), "Created task") {
		t.Errorf("Expected 'Created task' in output, got: %s", out)
	}
}

// TestCLI_TaskList tests the list command and its filters
func TestCLI_TaskList(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectID := registerProject(t, binary, configPath)

	descriptions := []string{"First task", "Second task"}
	for _, d := range descriptions {
		cmd := exec.Command(binary, "task", "create", d,
			"--project", projectID,
			"--config", configPath)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("task create failed: %v\n%s", err, out)
		}
	}

	cmd := exec.Command(binary, "task", "list", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task list failed: %v\n%s", err, out)
	}

	output := string(out)
	for _, d := range descriptions {
		if !strings.Contains(output, d) {
			t.Errorf("Expected task %q in output, got: %s", d, output)
		}
	}
	if !strings.Contains(output, "ID") || !strings.Contains(output, "STATUS") {
		t.Errorf("Expected table header in output, got: %s", output)
	}
	// Freshly created tasks sit at pending / 0%
	if !strings.Contains(output, "pending") || !strings.Contains(output, "0%") {
		t.Errorf("Expected pending tasks at 0%% in output, got: %s", output)
	}
}

// TestCLI_TaskListWithStatusFilter tests filtering tasks by status
func TestCLI_TaskListWithStatusFilter(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectID := registerProject(t, binary, configPath)

	cmd := exec.Command(binary, "task", "create", "Filtered task",
		"--project", projectID,
		"--config", configPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("task create failed: %v\n%s", err, out)
	}

	// Matching filter returns the task
	cmd = exec.Command(binary, "task", "list", "--status", "pending", "--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task list --status failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "Filtered task") {
		t.Errorf("Expected task in filtered output, got: %s", out)
	}

	// Non-matching filter returns only the header
	cmd = exec.Command(binary, "task", "list", "--status", "completed", "--config", configPath)
	out, err = cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task list --status failed: %v\n%s", err, out)
	}
	if strings.Contains(string(out), "Filtered task") {
		t.Errorf("Expected no tasks for completed filter, got: %s", out)
	}

	// Unknown statuses are rejected
	cmd = exec.Command(binary, "task", "list", "--status", "bogus", "--config", configPath)
	if out, err := cmd.CombinedOutput(); err == nil {
		t.Errorf("Expected error for unknown status, got: %s", out)
	}
}

// TestCLI_TaskShow tests the show command
func TestCLI_TaskShow(t *testing.T) {
	binary := binaryPath(t)
	configPath := createTestConfig(t, TempDBPath(t))
	projectID := registerProject(t, binary, configPath)

	cmd := exec.Command(binary, "task", "create", "Inspect me",
		"--project", projectID,
		"--priority", "low",
		"--config", configPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task create failed: %v\n%s", err, out)
	}

	idPattern := regexp.MustCompile(`Created task (\S+)`)
	m := idPattern.FindStringSubmatch(string(out))
	if m == nil {
		t.Fatalf("Expected task ID in output, got: %s", out)
	}
	taskID := m[1]

	cmd = exec.Command(binary, "task", "show", taskID, "--config", configPath)
	out, err = cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task show failed: %v\n%s", err, out)
	}

	output := string(out)
	if !strings.Contains(output, taskID) {
		t.Errorf("Expected task ID in output, got: %s", output)
	}
	if !strings.Contains(output, "pending (0%)") {
		t.Errorf("Expected pending status in output, got: %s", output)
	}
	if !strings.Contains(output, "Inspect me") {
		t.Errorf("Expected description in output, got: %s", output)
	}
}

// TestCLI_TaskTemplates tests the templates listing
func TestCLI_TaskTemplates(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "task", "templates")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("task templates failed: %v\n%s", err, out)
	}

	output := string(out)
	for _, id := range []string{"refactor", "cleanup", "deps", "docs", "tests"} {
		if !strings.Contains(output, id) {
			t.Errorf("Expected template %q in output, got: %s", id, output)
		}
	}
}

// TestCLI_InvalidCommand tests error handling for unknown commands
func TestCLI_InvalidCommand(t *testing.T) {
	binary := binaryPath(t)

	cmd := exec.Command(binary, "frobnicate")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("Expected unknown command to fail, got: %s", out)
	}
	if !strings.Contains(string(out), "frobnicate") {
		t.Errorf("Expected command name in error output, got: %s", out)
	}
}
