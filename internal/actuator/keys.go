package actuator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// keyAliases folds the spellings models commonly produce onto one canonical
// name per key.
var keyAliases = map[string]string{
	"control":    "ctrl",
	"lctrl":      "ctrl",
	"rctrl":      "ctrl",
	"option":     "alt",
	"opt":        "alt",
	"command":    "cmd",
	"meta":       "cmd",
	"super":      "cmd",
	"win":        "cmd",
	"windows":    "cmd",
	"return":     "enter",
	"escape":     "esc",
	"del":        "delete",
	"bksp":       "backspace",
	"spacebar":   "space",
	"pgup":       "pageup",
	"page_up":    "pageup",
	"page up":    "pageup",
	"pgdn":       "pagedown",
	"page_down":  "pagedown",
	"page down":  "pagedown",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
}

// namedKeys is the set of canonical multi-character key names.
var namedKeys = map[string]bool{
	"ctrl": true, "alt": true, "shift": true, "cmd": true,
	"enter": true, "esc": true, "tab": true, "space": true,
	"backspace": true, "delete": true, "insert": true,
	"up": true, "down": true, "left": true, "right": true,
	"home": true, "end": true, "pageup": true, "pagedown": true,
	"capslock": true, "printscreen": true,
	"f1": true, "f2": true, "f3": true, "f4": true, "f5": true, "f6": true,
	"f7": true, "f8": true, "f9": true, "f10": true, "f11": true, "f12": true,
}

// NormalizeKey maps a key name to its canonical lower-case form. Single
// characters are returned as-is apart from letter case.
func NormalizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", fmt.Errorf("empty key name")
	}
	if utf8.RuneCountInString(k) == 1 {
		r, _ := utf8.DecodeRuneInString(k)
		return string(unicode.ToLower(r)), nil
	}
	k = strings.ToLower(k)
	if alias, ok := keyAliases[k]; ok {
		k = alias
	}
	if !namedKeys[k] {
		return "", fmt.Errorf("unsupported key %q", key)
	}
	return k, nil
}

func isModifier(key string) bool {
	switch key {
	case "ctrl", "alt", "shift", "cmd":
		return true
	}
	return false
}

func normalizeAll(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		n, err := NormalizeKey(k)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
