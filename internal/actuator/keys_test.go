package actuator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"Enter":     "enter",
		"return":    "enter",
		"Control":   "ctrl",
		"CMD":       "cmd",
		"win":       "cmd",
		"Escape":    "esc",
		"Page Down": "pagedown",
		"ArrowUp":   "up",
		"F5":        "f5",
		"A":         "a",
		"7":         "7",
		" tab ":     "tab",
		"/":         "/",
	}
	for in, want := range tests {
		got, err := NormalizeKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "   ", "hyper", "f13"} {
		_, err := NormalizeKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestKeyDefinition(t *testing.T) {
	assert.Equal(t, keyDef{key: "F5", code: "F5", vk: 116}, keyDefinition("f5"))
	assert.Equal(t, keyDef{key: "x", code: "KeyX", text: "x", vk: 'X'}, keyDefinition("x"))
	assert.Equal(t, keyDef{key: "3", code: "Digit3", text: "3", vk: '3'}, keyDefinition("3"))
	assert.Equal(t, keyDef{key: "/", text: "/"}, keyDefinition("/"))
}
