package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/actuator"
	"github.com/xkilldash9x/deskpilot/internal/agent"
	"github.com/xkilldash9x/deskpilot/internal/clock"
	"github.com/xkilldash9x/deskpilot/internal/config"
	"github.com/xkilldash9x/deskpilot/internal/llmclient"
	"github.com/xkilldash9x/deskpilot/internal/locator"
	"github.com/xkilldash9x/deskpilot/internal/observability"
	"github.com/xkilldash9x/deskpilot/internal/ratelimit"
	"github.com/xkilldash9x/deskpilot/internal/screen"
	"github.com/xkilldash9x/deskpilot/internal/store"
)

// Construction seams, replaced in tests.
var (
	newActuator = actuator.New
	openJournal = store.Open
)

var newLLM = func(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	return llmclient.NewRouterFromConfig(cfg, logger)
}

var runClock clock.Clock = clock.Real{}

const bannerRule = "============================================================"

// errTaskFailed marks a run the model itself declared unsuccessful.
var errTaskFailed = errors.New("task failed")

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Carry out a task described in plain language",
		Long: `Run plans the task one step at a time from screenshots, then performs each
step with mouse and keyboard input until the model reports success or failure.
When no task is given on the command line it is read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				if task, err = promptForTask(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			return runTask(ctx, cfg, task, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	runCmd.Flags().Int("max-iterations", 0, "Maximum number of steps. (Overrides config/env)")
	runCmd.Flags().Int("max-step-attempts", 0, "Maximum actions per step. (Overrides config/env)")
	runCmd.Flags().Duration("delay", 0, "Pause after every action and step. (Overrides config/env)")
	runCmd.Flags().String("backend", "", "Input backend, desktop or browser. (Overrides config/env)")
	runCmd.Flags().Bool("headless", false, "Run the browser backend without a window. (Overrides config/env)")
	return runCmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Changed("max-iterations") {
		n, _ := flags.GetInt("max-iterations")
		cfg.SetAgentMaxIterations(n)
	}
	if flags.Changed("max-step-attempts") {
		n, _ := flags.GetInt("max-step-attempts")
		cfg.SetAgentMaxStepAttempts(n)
	}
	if flags.Changed("delay") {
		d, _ := flags.GetDuration("delay")
		cfg.SetAgentDelayBetweenSteps(d)
	}
	if flags.Changed("backend") {
		b, _ := flags.GetString("backend")
		cfg.SetActuatorBackend(b)
	}
	if flags.Changed("headless") {
		h, _ := flags.GetBool("headless")
		cfg.SetBrowserHeadless(h)
	}
	if c, ok := cfg.(*config.Config); ok {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid flag combination: %w", err)
		}
	}
	return nil
}

// promptForTask reads one line from in.
func promptForTask(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "What would you like me to do? ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading task: %w", err)
		}
		return "", errors.New("no task given")
	}
	task := strings.TrimSpace(scanner.Text())
	if task == "" {
		return "", errors.New("no task given")
	}
	return task, nil
}

// runComponents holds everything a task run owns.
type runComponents struct {
	Backend    actuator.Backend
	LLM        schemas.LLMClient
	Journal    store.Store
	Controller *agent.TaskController
}

// Shutdown releases the components in reverse order of construction.
func (rc *runComponents) Shutdown(logger *zap.Logger) {
	if rc.Journal != nil {
		if err := rc.Journal.Close(); err != nil {
			logger.Warn("Error closing journal", zap.Error(err))
		}
	}
	if rc.LLM != nil {
		if err := rc.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client", zap.Error(err))
		}
	}
	if rc.Backend != nil {
		if err := rc.Backend.Close(); err != nil {
			logger.Warn("Error closing actuator", zap.Error(err))
		}
	}
}

func artifactDirs(cfg *config.Config) (task, step, locate string) {
	dir := cfg.Screen().DataDir
	return filepath.Join(dir, screen.TaskPlannerDir),
		filepath.Join(dir, screen.StepHandlerDir),
		filepath.Join(dir, screen.ClickLocatorDir)
}

// initializeRunComponents handles dependency injection for a single task.
func initializeRunComponents(ctx context.Context, cfg *config.Config, task string, logger *zap.Logger) (*runComponents, error) {
	comps := &runComponents{}
	agentCfg := cfg.Agent()
	screenCfg := cfg.Screen()
	encode := screen.EncodeOptions{MaxDimension: screenCfg.MaxImageDimension, Quality: screenCfg.JPEGQuality}

	// 1. Input and capture
	backend, err := newActuator(ctx, cfg.Actuator(), logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize actuator: %w", err)
	}
	comps.Backend = backend

	// 2. Model access
	llm, err := newLLM(agentCfg.LLM, logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	comps.LLM = llm

	// 3. Journal
	journal, err := openJournal(ctx, cfg.Journal(), cfg.Database(), logger)
	if err != nil {
		return comps, fmt.Errorf("failed to open journal: %w", err)
	}
	comps.Journal = journal

	// 4. Grounding and dispatch
	taskDir, stepDir, locateDir := artifactDirs(cfg)
	locCfg := cfg.Locator()
	resolver, err := locator.New(llm, screen.NewCamera(backend, locateDir, "locate", runClock, logger), locator.Options{
		MinConfidence: locCfg.MinConfidence,
		Annotate:      locCfg.Annotate,
		Timeout:       locCfg.Timeout,
		Encode:        encode,
	}, logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize element locator: %w", err)
	}

	limiter := ratelimit.NewWindow(agentCfg.TypeRateLimit.Capacity, agentCfg.TypeRateLimit.Window, runClock, logger)
	dispatcher, err := agent.NewDispatcher(backend, resolver, limiter, runClock,
		agent.DispatcherOptions{KeystrokePause: agentCfg.KeystrokePause}, logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	// 5. Controller
	controller, err := agent.NewTaskController(task, agent.TaskOptions{
		MaxIterations:     agentCfg.MaxIterations,
		MaxStepAttempts:   agentCfg.MaxStepAttempts,
		DelayBetweenSteps: agentCfg.DelayBetweenSteps,
	}, agent.TaskDeps{
		Decisions:     agent.NewLLMDecisionSource(llm, encode, logger),
		Executor:      dispatcher,
		TaskSnapshots: screen.NewCamera(backend, taskDir, "task", runClock, logger),
		StepSnapshots: screen.NewCamera(backend, stepDir, "step", runClock, logger),
		Clock:         runClock,
		Journal:       journal,
		Logger:        logger,
	})
	if err != nil {
		return comps, fmt.Errorf("failed to create task controller: %w", err)
	}
	comps.Controller = controller
	return comps, nil
}

// runTask executes one task end to end and prints the result banner.
func runTask(ctx context.Context, cfg *config.Config, task string, out io.Writer, logger *zap.Logger) error {
	if cfg.Screen().CleanOnStart {
		taskDir, stepDir, locateDir := artifactDirs(cfg)
		if _, err := screen.CleanDirs(ctx, logger, taskDir, stepDir, locateDir); err != nil {
			logger.Warn("Failed to clean screenshot directories", zap.Error(err))
		}
	}

	comps, err := initializeRunComponents(ctx, cfg, task, logger)
	defer comps.Shutdown(logger)
	if err != nil {
		return err
	}

	runLogger := observability.ForRun(logger, comps.Controller.RunID(), task)
	runLogger.Info("Starting task run")
	started := runClock.Now()

	verdict, runErr := comps.Controller.Run(ctx)
	printBanner(out, task, comps.Controller, verdict, runErr)
	runLogger.Info("Task run finished",
		zap.String("state", string(comps.Controller.State())),
		zap.Int("steps", comps.Controller.Iterations()),
		zap.Duration("elapsed", runClock.Now().Sub(started).Round(time.Millisecond)))

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			runLogger.Warn("Task aborted by user signal")
		}
		return runErr
	}
	if f, ok := verdict.(agent.TaskFailure); ok {
		return fmt.Errorf("%w: %s", errTaskFailed, f.Message)
	}
	return nil
}

func printBanner(out io.Writer, task string, tc *agent.TaskController, verdict agent.Verdict, runErr error) {
	result := string(tc.State())
	message := ""
	switch {
	case runErr != nil:
		message = runErr.Error()
	case verdict != nil:
		message = verdict.Summary()
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, bannerRule)
	fmt.Fprintf(out, " Task:    %s\n", task)
	fmt.Fprintf(out, " Run:     %s\n", tc.RunID())
	fmt.Fprintf(out, " Result:  %s\n", result)
	if message != "" {
		fmt.Fprintf(out, " Message: %s\n", message)
	}
	history := tc.History()
	fmt.Fprintf(out, " Steps:   %d\n", len(history))
	for i, rec := range history {
		fmt.Fprintf(out, "   %d. [%s] %s: %s\n", i+1, rec.Status, rec.Description, rec.Result)
	}
	fmt.Fprintln(out, bannerRule)
}
