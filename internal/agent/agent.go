// Package agent implements the planner, developer, tester, and reporter
// steps on top of the Claude Code CLI run as a subprocess.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent/prompts"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/step"
)

// Client invokes the coding agent CLI for each pipeline step. It implements
// step.PlanStep, step.DevelopStep, step.TestStep, step.ReportStep, and
// step.Validator.
type Client struct {
	command string
	model   string
	cfg     config.AgentConfig
	loader  *prompts.Loader
}

// New creates a Client from agent configuration.
func New(cfg config.AgentConfig, loader *prompts.Loader) *Client {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	if loader == nil {
		loader = prompts.NewLoader()
	}
	return &Client{command: command, model: cfg.Model, cfg: cfg, loader: loader}
}

// resultEnvelope is the final message of the CLI's json output format.
type resultEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

func (c *Client) run(ctx context.Context, repoPath, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{
		"--print",
		"--dangerously-skip-permissions",
		"--output-format", "json",
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent step timed out after %s: %w", timeout, ctx.Err())
		}
		return "", fmt.Errorf("running %s: %w", c.command, err)
	}

	var envelope resultEnvelope
	if err := json.Unmarshal(out, &envelope); err != nil {
		// Older CLI versions print the result as plain text.
		return strings.TrimSpace(string(out)), nil
	}
	if envelope.IsError {
		return "", fmt.Errorf("agent reported error: %s", envelope.Result)
	}
	return envelope.Result, nil
}

// extractJSON pulls the trailing JSON object out of an agent response and
// unmarshals it into v. Agents are prompted to end their output with a
// single JSON line, but some wrap it in prose or code fences.
func extractJSON(text string, v any) error {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		line = strings.TrimPrefix(line, "```json")
		line = strings.TrimSuffix(line, "```")
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if err := json.Unmarshal([]byte(line), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no JSON object found in agent output")
}

// Plan implements step.PlanStep.
func (c *Client) Plan(ctx context.Context, req step.PlanRequest) (step.PlanResult, error) {
	prompt, err := c.loader.Render("plan", map[string]string{
		"Description": req.Description,
		"Context":     req.Context,
		"Feedback":    req.Feedback,
	})
	if err != nil {
		return step.PlanResult{}, err
	}

	out, err := c.run(ctx, req.RepoPath, prompt, c.cfg.PlanningDeadline())
	if err != nil {
		return step.PlanResult{}, fmt.Errorf("planning: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return step.PlanResult{}, fmt.Errorf("planning: agent returned an empty plan")
	}
	return step.PlanResult{Plan: out}, nil
}

type developPayload struct {
	FilesCreated  []string `json:"files_created"`
	FilesModified []string `json:"files_modified"`
	Summary       string   `json:"summary"`
}

// Develop implements step.DevelopStep.
func (c *Client) Develop(ctx context.Context, req step.DevelopRequest) (step.DevelopResult, error) {
	prompt, err := c.loader.Render("develop", map[string]string{
		"Plan":    req.Plan,
		"Context": req.Context,
	})
	if err != nil {
		return step.DevelopResult{}, err
	}

	out, err := c.run(ctx, req.RepoPath, prompt, c.cfg.DevelopmentDeadline())
	if err != nil {
		return step.DevelopResult{}, fmt.Errorf("development: %w", err)
	}

	var payload developPayload
	if err := extractJSON(out, &payload); err != nil {
		return step.DevelopResult{}, fmt.Errorf("development result: %w", err)
	}
	return step.DevelopResult{
		FilesCreated:  payload.FilesCreated,
		FilesModified: payload.FilesModified,
		Summary:       payload.Summary,
	}, nil
}

// Test implements step.TestStep.
func (c *Client) Test(ctx context.Context, req step.TestRequest) (domain.TestResults, error) {
	files := append(append([]string{}, req.FilesCreated...), req.FilesModified...)
	prompt, err := c.loader.Render("test", map[string]any{"Files": files})
	if err != nil {
		return domain.TestResults{}, err
	}

	out, err := c.run(ctx, req.RepoPath, prompt, c.cfg.TestingDeadline())
	if err != nil {
		return domain.TestResults{}, fmt.Errorf("testing: %w", err)
	}

	var results domain.TestResults
	if err := extractJSON(out, &results); err != nil {
		return domain.TestResults{}, fmt.Errorf("test results: %w", err)
	}
	return results, nil
}

// Report implements step.ReportStep.
func (c *Client) Report(ctx context.Context, req step.ReportRequest) (string, error) {
	testSummary := "no test results recorded"
	if req.TestResults != nil {
		testSummary = fmt.Sprintf("%d/%d passed", req.TestResults.Passed, req.TestResults.Total)
		if !req.TestResults.AllPassed {
			testSummary += " (failures recorded)"
		}
	}

	prompt, err := c.loader.Render("report", map[string]string{
		"Description": req.Description,
		"Plan":        req.Plan,
		"Summary":     req.Summary,
		"TestSummary": testSummary,
		"BranchName":  req.BranchName,
		"CommitHash":  req.CommitHash,
	})
	if err != nil {
		return "", err
	}

	out, err := c.run(ctx, "", prompt, c.cfg.PlanningDeadline())
	if err != nil {
		return "", fmt.Errorf("report generation: %w", err)
	}
	return out, nil
}

type validationPayload struct {
	IsValid bool     `json:"is_valid"`
	Score   float64  `json:"score"`
	Issues  []string `json:"issues"`
}

func (c *Client) validate(ctx context.Context, subject, description, content string) (step.Validation, error) {
	prompt, err := c.loader.Render("validate", map[string]string{
		"Subject":     subject,
		"Description": description,
		"Content":     content,
	})
	if err != nil {
		return step.Validation{}, err
	}

	out, err := c.run(ctx, "", prompt, c.cfg.PlanningDeadline())
	if err != nil {
		return step.Validation{}, fmt.Errorf("validation: %w", err)
	}

	var payload validationPayload
	if err := extractJSON(out, &payload); err != nil {
		return step.Validation{}, fmt.Errorf("validation result: %w", err)
	}
	return step.Validation{Valid: payload.IsValid, Score: payload.Score, Issues: len(payload.Issues)}, nil
}

// ValidatePlan implements step.Validator.
func (c *Client) ValidatePlan(ctx context.Context, plan, description string) (step.Validation, error) {
	return c.validate(ctx, "plan", description, plan)
}

// ValidateImplementation implements step.Validator.
func (c *Client) ValidateImplementation(ctx context.Context, plan, description string, files []string) (step.Validation, error) {
	content := plan
	if len(files) > 0 {
		content += "\n\nFiles touched:\n" + strings.Join(files, "\n")
	}
	return c.validate(ctx, "implementation", description, content)
}
