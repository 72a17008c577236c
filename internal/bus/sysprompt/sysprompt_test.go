package sysprompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeWithoutThreadPrompt(t *testing.T) {
	got := Compose("")
	assert.Equal(t, Builtin, got)
	assert.NotContains(t, got, builtinHeader)
}

func TestComposeWithThreadPrompt(t *testing.T) {
	custom := "Creator preference: prioritize concise updates."
	got := Compose(custom)

	assert.Contains(t, got, builtinHeader)
	assert.Contains(t, got, creatorHeader)
	assert.Contains(t, got, Builtin)
	assert.Contains(t, got, custom)

	// Built-in guidance must appear before the creator's guidance.
	assert.Less(t, strings.Index(got, Builtin), strings.Index(got, custom))
}
