package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitScope_SpaceDelimited(t *testing.T) {
	tokens, ok := SplitScope("api:read api:write")
	assert.True(t, ok)
	assert.Equal(t, []string{"api:read", "api:write"}, tokens)
}

func TestSplitScope_Empty(t *testing.T) {
	tokens, ok := SplitScope("")
	assert.True(t, ok)
	assert.Nil(t, tokens)
}

func TestSplitScope_RejectsEmbeddedNewline(t *testing.T) {
	_, ok := SplitScope("api:read\napi:write")
	assert.False(t, ok)
}

func TestSplitScope_RejectsEmbeddedTab(t *testing.T) {
	_, ok := SplitScope("api:read\tapi:write")
	assert.False(t, ok)
}

func TestSplitScope_RejectsDoubledSeparator(t *testing.T) {
	_, ok := SplitScope("api:read  api:write")
	assert.False(t, ok)
}

func TestSplitScope_RejectsLeadingOrTrailingSpace(t *testing.T) {
	_, ok := SplitScope(" api:read")
	assert.False(t, ok)

	_, ok = SplitScope("api:read ")
	assert.False(t, ok)
}
