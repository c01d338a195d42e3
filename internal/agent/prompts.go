// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// Sorted map keys keep history lines stable between attempts.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const noHistoryMarker = "No steps taken yet."

// formatStepHistory renders completed steps for the task prompt.
func formatStepHistory(history []schemas.StepRecord) string {
	if len(history) == 0 {
		return noHistoryMarker
	}
	var b strings.Builder
	b.WriteString("Steps executed so far:\n")
	for i, rec := range history {
		fmt.Fprintf(&b, "Step %d:\n", i+1)
		fmt.Fprintf(&b, "  Description: %s\n", rec.Description)
		fmt.Fprintf(&b, "  Status: %s\n", rec.Status)
		fmt.Fprintf(&b, "  Result: %s\n", rec.Result)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatActionHistory renders the actions taken within the current step.
func formatActionHistory(history []schemas.ActionRecord) string {
	if len(history) == 0 {
		return noHistoryMarker
	}
	var b strings.Builder
	b.WriteString("Previous steps taken:\n")
	for i, rec := range history {
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			params = []byte(fmt.Sprint(rec.Parameters))
		}
		fmt.Fprintf(&b, "%d. Action: %s - %s\n", i+1, rec.ActionType, params)
	}
	return strings.TrimRight(b.String(), "\n")
}

const taskPromptTemplate = `You plan and supervise the execution of a task on a desktop computer. You see the current screen in the attached screenshot.

TASK DESCRIPTION: %s

STEP HISTORY:
%s

Decide whether the whole task is complete, whether it cannot be completed, or what the next single step should be.
Plan the shortest path to the goal: prefer keyboard shortcuts over mouse movement, do not repeat a step that already failed, and do not add verification steps that are not needed.
Only report success once every part of the task is visible as done on the screen.

Respond with exactly one JSON object and nothing else.

Task complete:
{"status": "success", "message": "why the task is complete"}

Task cannot be completed:
{"status": "failure", "message": "what was attempted and what failed"}

Next step:
{"status": "next_step", "description": "what to do next", "expected_outcome": "what the screen shows once the step is done", "verification": "how to check the step worked", "alternatives": ["what to try if it fails"]}`

const stepPromptTemplate = `You operate a desktop computer one UI action at a time. You see the current screen in the attached screenshot.

TASK DESCRIPTION: %s

EXPECTED OUTCOME (only report success when the screen shows this): %s

ACTION HISTORY:
%s

Decide whether the expected outcome is reached, whether there is a problem that prevents it, or which single action moves towards it.
Never repeat an action that had no effect. Assume a text field is focused after clicking it. Use double-click only to open files or applications from the desktop or a file browser.

Respond with exactly one JSON object and nothing else.

Success:
{"result": "success", "description": "evidence from the screenshot"}

Problem:
{"result": "problem", "description": "what is wrong", "suggested_fix": "how it might be fixed", "alternative_approach": "a different approach"}

Actions:
{"action_type": "click", "parameters": {"target": "detailed description of the element", "fallback_targets": ["alternative element"]}}
{"action_type": "doubleclick", "parameters": {"target": "detailed description of the element", "fallback_targets": ["alternative element"]}}
{"action_type": "click", "parameters": {"x": 100, "y": 200}}
{"action_type": "type", "parameters": {"text": "text to type; newlines press Enter, every four leading spaces press Tab"}}
{"action_type": "hotkey", "parameters": {"keys": ["ctrl", "c"]}}
{"action_type": "scroll", "parameters": {"direction": "up|down|left|right", "amount": 5}}

When clicking a text box without a placeholder, describe it by its position relative to nearby text (below, above, right of, left of) and include the word "textbox".`

func buildTaskPrompt(task string, history []schemas.StepRecord) string {
	return fmt.Sprintf(taskPromptTemplate, task, formatStepHistory(history))
}

func buildStepPrompt(step NextStep, history []schemas.ActionRecord) string {
	return fmt.Sprintf(stepPromptTemplate, step.Description, step.ExpectedOutcome, formatActionHistory(history))
}
