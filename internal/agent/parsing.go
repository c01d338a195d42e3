// internal/agent/parsing.go
package agent

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
)

const (
	defaultStepDescription = "Unknown step"
	defaultStepOutcome     = "Step completed"
)

// ParseStepResponse interprets a reply to a step prompt. A "result" key of
// success or problem yields a verdict; an "action_type" key yields an action
// record for the dispatcher. Anything else is a MalformedResponseError.
func ParseStepResponse(raw string) (StepDecision, error) {
	obj, err := decodeResponse(raw)
	if err != nil {
		return StepDecision{}, err
	}

	if result, ok := obj["result"]; ok {
		switch result {
		case "success":
			return StepDecision{Verdict: StepSuccess{Description: stringField(obj, "description")}}, nil
		case "problem":
			return StepDecision{Verdict: StepProblem{
				Description:         stringField(obj, "description"),
				SuggestedFix:        stringField(obj, "suggested_fix"),
				AlternativeApproach: stringField(obj, "alternative_approach"),
			}}, nil
		default:
			return StepDecision{}, &MalformedResponseError{Raw: raw, Reason: fmt.Sprintf("unrecognised result %v", result)}
		}
	}

	if at, ok := obj["action_type"]; ok {
		rec := &schemas.ActionRecord{ActionType: fmt.Sprint(at)}
		if params, ok := obj["parameters"].(map[string]any); ok {
			rec.Parameters = params
		}
		return StepDecision{Action: rec}, nil
	}

	return StepDecision{}, &MalformedResponseError{Raw: raw, Reason: "reply has neither a result nor an action_type"}
}

// ParseTaskResponse interprets a reply to a task prompt by its "status" key.
func ParseTaskResponse(raw string) (TaskDecision, error) {
	obj, err := decodeResponse(raw)
	if err != nil {
		return TaskDecision{}, err
	}

	status, ok := obj["status"]
	if !ok {
		return TaskDecision{}, &MalformedResponseError{Raw: raw, Reason: "reply has no status"}
	}

	switch status {
	case "success":
		return TaskDecision{Verdict: TaskSuccess{Message: stringField(obj, "message")}}, nil
	case "failure":
		return TaskDecision{Verdict: TaskFailure{Message: stringField(obj, "message")}}, nil
	case "next_step":
		next := &NextStep{
			Description:     stringField(obj, "description"),
			ExpectedOutcome: stringField(obj, "expected_outcome"),
			Verification:    stringField(obj, "verification"),
		}
		if next.Description == "" {
			next.Description = defaultStepDescription
		}
		if next.ExpectedOutcome == "" {
			next.ExpectedOutcome = defaultStepOutcome
		}
		switch alts := obj["alternatives"].(type) {
		case string:
			if alts != "" {
				next.Alternatives = []string{alts}
			}
		case []any:
			for _, a := range alts {
				if s, ok := a.(string); ok && s != "" {
					next.Alternatives = append(next.Alternatives, s)
				}
			}
		}
		return TaskDecision{Next: next}, nil
	}
	return TaskDecision{}, &MalformedResponseError{Raw: raw, Reason: fmt.Sprintf("unrecognised status %v", status)}
}

func decodeResponse(raw string) (map[string]any, error) {
	obj, err := llmutil.DecodeObject(raw)
	if err != nil {
		return nil, &MalformedResponseError{Raw: raw, Reason: "reply is not a JSON object", Err: err}
	}
	if obj == nil {
		return nil, &MalformedResponseError{Raw: raw, Reason: "reply is not a JSON object"}
	}
	return obj, nil
}

// DecodeAction validates an action record and converts it into a typed
// command. Every failure is an InvalidCommandError.
func DecodeAction(rec schemas.ActionRecord) (ActionCommand, error) {
	at := ActionType(rec.ActionType)
	if at == "" {
		return nil, invalidCommand(ErrCodeInvalidCommand, "", "missing action_type")
	}
	switch at {
	case ActionClick, ActionDoubleClick, ActionTypeText, ActionScroll, ActionHotkey:
	default:
		return nil, invalidCommand(ErrCodeUnknownAction, at, "unknown action type")
	}
	if len(rec.Parameters) == 0 {
		return nil, invalidCommand(ErrCodeInvalidParameters, at, "missing parameters")
	}
	p := rec.Parameters

	switch at {
	case ActionClick:
		target, err := decodePointer(at, p)
		if err != nil {
			return nil, err
		}
		return ClickCommand{target}, nil

	case ActionDoubleClick:
		target, err := decodePointer(at, p)
		if err != nil {
			return nil, err
		}
		return DoubleClickCommand{target}, nil

	case ActionTypeText:
		raw, ok := p["text"]
		if !ok || raw == nil {
			return nil, invalidCommand(ErrCodeInvalidParameters, at, "missing text")
		}
		text, ok := raw.(string)
		if !ok {
			return nil, invalidCommand(ErrCodeInvalidParameters, at, "text must be a string")
		}
		return TypeCommand{Text: text}, nil

	case ActionScroll:
		dir, _ := p["direction"].(string)
		switch d := ScrollDirection(dir); d {
		case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
			amount := DefaultScrollAmount
			if raw, ok := p["amount"]; ok && raw != nil {
				n, ok := toInt(raw)
				if !ok {
					return nil, invalidCommand(ErrCodeInvalidParameters, at, "amount must be an integer")
				}
				amount = n
			}
			return ScrollCommand{Direction: d, Amount: amount}, nil
		default:
			return nil, invalidCommand(ErrCodeInvalidParameters, at, "invalid direction %q", dir)
		}

	case ActionHotkey:
		var rawKeys []any
		switch ks := p["keys"].(type) {
		case []any:
			rawKeys = ks
		case []string:
			for _, k := range ks {
				rawKeys = append(rawKeys, k)
			}
		}
		if len(rawKeys) == 0 {
			return nil, invalidCommand(ErrCodeInvalidParameters, at, "keys must be a non-empty list")
		}
		keys := make([]string, 0, len(rawKeys))
		for i, k := range rawKeys {
			s, ok := k.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, invalidCommand(ErrCodeInvalidParameters, at, "key %d is not a key name", i)
			}
			keys = append(keys, s)
		}
		return HotkeyCommand{Keys: keys}, nil
	}
	return nil, invalidCommand(ErrCodeUnknownAction, at, "unknown action type")
}

func decodePointer(at ActionType, p map[string]any) (PointerTarget, error) {
	rawX, hasX := p["x"]
	rawY, hasY := p["y"]
	hasX = hasX && rawX != nil
	hasY = hasY && rawY != nil
	target, _ := p["target"].(string)
	target = strings.TrimSpace(target)

	var pt PointerTarget
	switch {
	case hasX != hasY:
		return pt, invalidCommand(ErrCodeInvalidParameters, at, "both x and y are required for a coordinate click")
	case hasX && target != "":
		return pt, invalidCommand(ErrCodeInvalidParameters, at, "give either coordinates or a target, not both")
	case hasX:
		x, okX := toInt(rawX)
		y, okY := toInt(rawY)
		if !okX || !okY {
			return pt, invalidCommand(ErrCodeInvalidParameters, at, "coordinates must be integers")
		}
		pt.Point = &schemas.Point{X: x, Y: y}
		return pt, nil
	case target != "":
		pt.Target = target
		var fallbacks []string
		switch fs := p["fallback_targets"].(type) {
		case []string:
			fallbacks = fs
		case []any:
			for _, f := range fs {
				if s, ok := f.(string); ok {
					fallbacks = append(fallbacks, s)
				}
			}
		}
		for _, f := range fallbacks {
			if f = strings.TrimSpace(f); f != "" && f != target {
				pt.FallbackTargets = append(pt.FallbackTargets, f)
			}
		}
		return pt, nil
	}
	return pt, invalidCommand(ErrCodeInvalidParameters, at, "missing target description or x,y coordinates")
}

// toInt accepts JSON numbers and numeric strings. Fractions are rounded.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(math.Round(n)), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return toInt(f)
	}
	return 0, false
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func pointString(p schemas.Point) string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}
