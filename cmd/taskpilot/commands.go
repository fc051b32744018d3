package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/agent/prompts"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/gitexec"
	"github.com/taskpilot/taskpilot/internal/maintenance"
	"github.com/taskpilot/taskpilot/internal/notify"
	"github.com/taskpilot/taskpilot/internal/observer"
	"github.com/taskpilot/taskpilot/internal/orchestrator"
	"github.com/taskpilot/taskpilot/internal/progress"
	"github.com/taskpilot/taskpilot/internal/queue"
	"github.com/taskpilot/taskpilot/internal/schedule"
	"github.com/taskpilot/taskpilot/internal/taskstore"
	"github.com/taskpilot/taskpilot/tui"
	"github.com/taskpilot/taskpilot/web/api"
)

var (
	taskProject  string
	taskPriority string
	taskContext  string
	taskTemplate string
	taskScope    string
	listStatus   string
	listProject  string
	approveNo    bool
	approveNote  string
	servePort    int

	projectName   string
	projectPath   string
	projectRepo   string
	projectBranch string
	projectDesc   string
)

func init() {
	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, queue workers, and schedules",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// task commands
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	createCmd := &cobra.Command{
		Use:   "create [DESCRIPTION]",
		Short: "Create a task and schedule its execution",
		RunE:  runTaskCreate,
	}
	createCmd.Flags().StringVar(&taskProject, "project", "", "project ID (required)")
	createCmd.Flags().StringVar(&taskPriority, "priority", "", "low|medium|high|urgent")
	createCmd.Flags().StringVar(&taskContext, "context", "", "additional context for the agent")
	createCmd.Flags().StringVar(&taskTemplate, "template", "", "use a maintenance template instead of a description")
	createCmd.Flags().StringVar(&taskScope, "scope", "", "scope for the template (default: whole repository)")
	createCmd.MarkFlagRequired("project")
	taskCmd.AddCommand(createCmd)

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List maintenance task templates",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(maintenance.List())
		},
	}
	taskCmd.AddCommand(templatesCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE:  runTaskList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listProject, "project", "", "filter by project ID")
	taskCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show TASK",
		Short: "Show a task with its event history",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskShow,
	}
	taskCmd.AddCommand(showCmd)

	approveCmd := &cobra.Command{
		Use:   "approve TASK",
		Short: "Approve or reject a plan waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskApprove,
	}
	approveCmd.Flags().BoolVar(&approveNo, "reject", false, "reject instead of approve")
	approveCmd.Flags().StringVar(&approveNote, "feedback", "", "feedback; with --reject triggers a replan")
	taskCmd.AddCommand(approveCmd)

	rootCmd.AddCommand(taskCmd)

	// project commands
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a project",
		RunE:  runProjectAdd,
	}
	addCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	addCmd.Flags().StringVar(&projectPath, "path", "", "local repository path (required)")
	addCmd.Flags().StringVar(&projectRepo, "repo", "", "repository URL")
	addCmd.Flags().StringVar(&projectBranch, "branch", "", "main branch (default: main)")
	addCmd.Flags().StringVar(&projectDesc, "description", "", "project description")
	addCmd.MarkFlagRequired("name")
	addCmd.MarkFlagRequired("path")
	projectCmd.AddCommand(addCmd)

	projectListCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE:  runProjectList,
	}
	projectCmd.AddCommand(projectListCmd)

	rootCmd.AddCommand(projectCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*taskstore.Store, error) {
	return taskstore.New(cfg.General.DatabasePath)
}

// buildEngine wires the orchestrator from config: real git, the agent
// CLI for planning/development/testing, and notifications.
func buildEngine(cfg *config.Config, store *taskstore.Store, sink orchestrator.EventSink) *orchestrator.Engine {
	git := gitexec.New(cfg.Git.UserName, cfg.Git.UserEmail)
	client := agent.New(cfg.Agent, prompts.NewLoader())

	return orchestrator.New(store, cfg, git, client, client, client, client, orchestrator.Options{
		Validator: client,
		Notifier:  notify.FromSettings(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
		Sink:      sink,
	})
}

// multiSink fans task updates out to several sinks.
type multiSink []orchestrator.EventSink

func (m multiSink) TaskUpdated(task *domain.Task) {
	for _, s := range m {
		s.TaskUpdated(task)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := observer.New()

	// The server is also the engine's event sink; it is created first
	// with the queue wired in afterwards via the engine.
	var pool *queue.Pool
	var server *api.Server

	engine := buildEngine(cfg, store, multiSink{metrics, sinkFunc(func(task *domain.Task) {
		if server != nil {
			server.TaskUpdated(task)
		}
	})})
	pool = queue.NewPool(store, engine, cfg.General.Workers)
	server = api.NewServer(store, engine, pool, cfg.Web.Addr())

	scheduler, err := schedule.New(store, pool, cfg.Schedules)
	if err != nil {
		return err
	}

	// Surface plan edits made while a task waits at the gate.
	if err := os.MkdirAll(cfg.General.PlansDir, 0755); err != nil {
		return err
	}
	watcher, err := observer.NewPlanWatcher(cfg.General.PlansDir, func(files []string) {
		for _, f := range files {
			taskID := observer.TaskIDFromPlanPath(f)
			if taskID == "" {
				continue
			}
			task, err := store.GetTask(taskID)
			if err != nil || task.Status != domain.StatusAwaitingApproval {
				continue
			}
			store.AppendEvent(taskID, domain.EventPlanUpdated, map[string]any{"plan_path": f})
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return server.Start(ctx) })

	fmt.Printf("Taskpilot serving at http://%s (%d workers)\n", cfg.Web.Addr(), cfg.General.Workers)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// sinkFunc adapts a function to the event sink interface.
type sinkFunc func(*domain.Task)

func (f sinkFunc) TaskUpdated(task *domain.Task) { f(task) }

func runTaskCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if taskPriority != "" && !domain.ValidPriority(domain.Priority(taskPriority)) {
		return fmt.Errorf("unknown priority %q", taskPriority)
	}
	if _, err := store.GetProject(taskProject); err != nil {
		return fmt.Errorf("project %s: %w", taskProject, err)
	}

	description := strings.Join(args, " ")
	if taskTemplate != "" {
		tpl, ok := maintenance.Find(taskTemplate)
		if !ok {
			return fmt.Errorf("unknown template %q, see 'taskpilot task templates'", taskTemplate)
		}
		description = tpl.Render(taskScope)
	}
	if description == "" {
		return fmt.Errorf("a description or --template is required")
	}

	task := &domain.Task{
		ProjectID:         taskProject,
		Description:       description,
		Priority:          domain.Priority(taskPriority),
		AdditionalContext: taskContext,
	}
	if err := store.CreateTask(task); err != nil {
		return err
	}
	if _, err := store.EnqueueJob(taskstore.JobExecute, task.ID, ""); err != nil {
		return err
	}

	fmt.Printf("Created task %s (execution queued; run 'taskpilot serve' to process)\n", task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if listStatus != "" && !domain.ValidStatus(domain.TaskStatus(listStatus)) {
		return fmt.Errorf("unknown status %q", listStatus)
	}

	tasks, err := store.ListTasks(taskstore.ListOptions{
		ProjectID: listProject,
		Status:    domain.TaskStatus(listStatus),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tPRIORITY\tDESCRIPTION")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n",
			t.ID, t.Status, progress.Percent(t.Status), t.Priority, t.Description)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.GetTask(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Task:     %s\n", task.ID)
	fmt.Printf("Status:   %s (%d%%)\n", task.Status, progress.Percent(task.Status))
	fmt.Printf("Priority: %s\n", task.Priority)
	fmt.Printf("Created:  %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Printf("\n%s\n", task.Description)
	if task.BranchName != "" {
		fmt.Printf("\nBranch:   %s\n", task.BranchName)
	}
	if task.CommitHash != "" {
		fmt.Printf("Commit:   %s\n", task.CommitHash)
	}
	if task.PlanPath != "" {
		fmt.Printf("Plan:     %s\n", task.PlanPath)
	}
	if task.ReportPath != "" {
		fmt.Printf("Report:   %s\n", task.ReportPath)
	}
	if task.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", task.ErrorMessage)
	}
	if task.TestResults != nil {
		fmt.Printf("Tests:    %d passed, %d failed\n", task.TestResults.Passed, task.TestResults.Failed)
	}

	events, err := store.ListEvents(task.ID, 10)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("\nRecent events:")
		for _, line := range progress.Excerpt(events, 10) {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func runTaskApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := buildEngine(cfg, store, nil)
	decision, err := engine.Approve(cmd.Context(), args[0], !approveNo, approveNote)
	if err != nil {
		return err
	}

	switch decision {
	case orchestrator.DecisionApproved:
		if _, err := store.EnqueueJob(taskstore.JobContinue, args[0], ""); err != nil {
			return err
		}
		fmt.Println("Plan approved; continuation queued")
	case orchestrator.DecisionReplan:
		if _, err := store.EnqueueJob(taskstore.JobReplan, args[0], approveNote); err != nil {
			return err
		}
		fmt.Println("Feedback recorded; replan queued")
	default:
		fmt.Println("Plan rejected")
	}
	return nil
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	project := &domain.Project{
		Name:          projectName,
		RepositoryURL: projectRepo,
		Description:   projectDesc,
		LocalPath:     config.ExpandPath(projectPath),
		MainBranch:    projectBranch,
	}
	if err := store.CreateProject(project); err != nil {
		return err
	}
	fmt.Printf("Registered project %s (%s)\n", project.ID, project.Name)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	projects, err := store.ListProjects()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPATH\tBRANCH")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.LocalPath, p.MainBranch)
	}
	return w.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := buildEngine(cfg, store, nil)
	// The pool is used for durable enqueues only; a serve process picks
	// the jobs up.
	pool := queue.NewPool(store, engine, cfg.General.Workers)

	model := tui.NewModel(store, engine, pool)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
