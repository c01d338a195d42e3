package cmd

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

var runIDPattern = regexp.MustCompile(`Run:\s+(\S+)`)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "deskpilot version "+Version)
}

func TestVersionCmd(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")
	out, err := executeCommand(t, "", "version", "--config", cfgPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "deskpilot "+Version+" ("), out)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "locator:\n  min_confidence: 3\n")
	_, err := executeCommand(t, "", "config", "validate", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locator.min_confidence")
}

func TestRootCmd_MissingConfigFile(t *testing.T) {
	_, err := executeCommand(t, "", "config", "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to initialize configuration")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "super-secret-key")
	cfgPath, _ := writeTestConfig(t, "")

	out, err := executeCommand(t, "", "config", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret-key")
	assert.Contains(t, out, "api_key: '********'")
	assert.Contains(t, out, "max_iterations: 20")
	assert.Contains(t, out, "delay_between_steps: 0s")
}

func TestConfigValidate(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")
	out, err := executeCommand(t, "", "config", "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
}

func TestRunCmd_CompletesTaskAndJournalsIt(t *testing.T) {
	backend, llm := stubRunDependencies(t,
		`{"status": "next_step", "description": "press the OK button", "expected_outcome": "dialog closes"}`,
		`{"action_type": "click", "parameters": {"target": "OK button"}}`,
		`{"found": true, "left": 10, "top": 10, "right": 30, "bottom": 30, "confidence": 0.9}`,
		`{"result": "success", "description": "dialog closed"}`,
		`{"status": "success", "message": "all done"}`,
	)
	cfgPath, dir := writeTestConfig(t, "")

	out, err := executeCommand(t, "", "run", "--config", cfgPath, "close", "the", "dialog")
	require.NoError(t, err, out)

	assert.Contains(t, out, "Task:    close the dialog")
	assert.Contains(t, out, "Result:  SUCCESS")
	assert.Contains(t, out, "Message: all done")
	assert.Contains(t, out, "1. [success] press the OK button: dialog closed")
	assert.Equal(t, []string{"click 20,20"}, backend.Calls())
	assert.True(t, backend.closed)

	require.Len(t, llm.requests, 5)
	assert.Equal(t, schemas.TierFast, llm.requests[2].Tier, "the locator uses the fast tier")
	assert.Equal(t, schemas.TierPowerful, llm.requests[0].Tier)

	// Screenshots land in the per-consumer artifact directories.
	for _, sub := range []string{"task_planner", "step_handler", "click_locator"} {
		entries, err := os.ReadDir(filepath.Join(dir, "data", sub))
		require.NoError(t, err, sub)
		assert.NotEmpty(t, entries, sub)
	}

	m := runIDPattern.FindStringSubmatch(out)
	require.Len(t, m, 2)
	runID := m[1]

	out, err = executeCommand(t, "", "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "close the dialog")

	out, err = executeCommand(t, "", "history", runID, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   success")
	assert.Contains(t, out, "1. [success] press the OK button")
	assert.Contains(t, out, `- click {"target":"OK button"}`)
}

func TestRunCmd_ReadsTaskFromStdin(t *testing.T) {
	backend, _ := stubRunDependencies(t,
		`{"status": "next_step", "description": "type greeting"}`,
		`{"action_type": "type", "parameters": {"text": "hello\n    world"}}`,
		`{"result": "success"}`,
		`{"status": "success", "message": "typed"}`,
	)
	cfgPath, _ := writeTestConfig(t, "")
	cfgPath = rewriteJournal(t, cfgPath, "none")

	out, err := executeCommand(t, "write a greeting\n", "run", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "What would you like me to do?")
	assert.Contains(t, out, "Task:    write a greeting")
	assert.Equal(t, []string{"type hello", "key enter", "key tab", "type world"}, backend.Calls())
}

func TestRunCmd_EmptyStdin(t *testing.T) {
	stubRunDependencies(t)
	cfgPath, _ := writeTestConfig(t, "")
	_, err := executeCommand(t, "\n", "run", "--config", cfgPath)
	assert.ErrorContains(t, err, "no task given")
}

func TestRunCmd_TaskFailureIsAnError(t *testing.T) {
	stubRunDependencies(t, `{"status": "failure", "message": "the app is not installed"}`)
	cfgPath, _ := writeTestConfig(t, "")

	out, err := executeCommand(t, "", "run", "--config", cfgPath, "open", "photoshop")
	require.Error(t, err)
	assert.ErrorIs(t, err, errTaskFailed)
	assert.Contains(t, out, "Result:  FAILURE")
	assert.Contains(t, out, "Message: the app is not installed")
}

func TestRunCmd_MalformedPlanningReplyAborts(t *testing.T) {
	stubRunDependencies(t, `I think you should click something`)
	cfgPath, _ := writeTestConfig(t, "")

	out, err := executeCommand(t, "", "run", "--config", cfgPath, "do", "it")
	require.Error(t, err)
	assert.Contains(t, out, "Result:  ABORTED")
}

func TestRunCmd_IterationBudget(t *testing.T) {
	stubRunDependencies(t,
		`{"status": "next_step", "description": "look around"}`,
		`{"result": "problem", "description": "nothing to see"}`,
	)
	cfgPath, _ := writeTestConfig(t, "")

	out, err := executeCommand(t, "", "run", "--config", cfgPath, "--max-iterations", "1", "wander")
	require.Error(t, err)
	assert.Contains(t, out, "Result:  TIMED_OUT")
	assert.Contains(t, out, "1. [failure] look around: nothing to see")
}

func TestRunCmd_InvalidFlagValue(t *testing.T) {
	stubRunDependencies(t)
	cfgPath, _ := writeTestConfig(t, "")
	_, err := executeCommand(t, "", "run", "--config", cfgPath, "--backend", "vnc", "x")
	assert.ErrorContains(t, err, "actuator.backend")
}

func TestHistoryCmd_Empty(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")
	out, err := executeCommand(t, "", "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	_, err = executeCommand(t, "", "history", "missing-run", "--config", cfgPath)
	assert.ErrorContains(t, err, "run not found")
}

func TestLogsCmd(t *testing.T) {
	cfgPath, dir := writeTestConfig(t, "")
	lines := []string{
		`{"level":"INFO","msg":"one"}`,
		`{"level":"WARN","msg":"two"}`,
		`{"level":"DEBUG","msg":"three"}`,
		`{"level":"ERROR","msg":"four"}`,
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deskpilot.log"), []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	out, err := executeCommand(t, "", "logs", "--config", cfgPath, "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, lines[2]+"\n"+lines[3]+"\n", out)

	out, err = executeCommand(t, "", "logs", "--config", cfgPath, "-n", "0", "--level", "warn")
	require.NoError(t, err)
	assert.Equal(t, lines[1]+"\n"+lines[3]+"\n", out)

	_, err = executeCommand(t, "", "logs", "--config", cfgPath, "--level", "loud")
	assert.ErrorContains(t, err, "invalid --level")
}

func TestLogsCmd_MissingFile(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "")
	_, err := executeCommand(t, "", "logs", "--config", cfgPath)
	assert.ErrorContains(t, err, "no log file at")
}

// rewriteJournal replaces the journal driver in an existing test config.
func rewriteJournal(t *testing.T, path, driver string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := strings.Replace(string(data), "  driver: bolt\n", "  driver: "+driver+"\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
