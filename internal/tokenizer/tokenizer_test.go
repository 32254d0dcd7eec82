package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_CountFlatSystemAndMessages(t *testing.T) {
	c := NewCounter()
	body := []byte(`{
		"system": "You are a helpful assistant.",
		"messages": [
			{"role": "user", "content": "Hello there"},
			{"role": "assistant", "content": "Hi, how can I help?"}
		]
	}`)

	n, err := c.Count(body)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestCounter_CountTypedContentBlocks(t *testing.T) {
	c := NewCounter()
	body := []byte(`{
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "what's the weather"}]},
			{"role": "assistant", "content": [{"type": "tool_use", "input": {"city": "nyc"}}]},
			{"role": "user", "content": [{"type": "tool_result", "content": "72F and sunny"}]}
		]
	}`)

	n, err := c.Count(body)
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestCounter_CountTools(t *testing.T) {
	c := NewCounter()
	withTools := []byte(`{
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"name": "get_weather", "description": "looks up weather", "input_schema": {"type": "object"}}]
	}`)
	withoutTools := []byte(`{"messages": [{"role": "user", "content": "hi"}]}`)

	withN, err := c.Count(withTools)
	require.NoError(t, err)
	withoutN, err := c.Count(withoutTools)
	require.NoError(t, err)

	assert.Greater(t, withN, withoutN, "tool declarations should add to the token count")
}

func TestCounter_LongContextExceedsThreshold(t *testing.T) {
	c := NewCounter()
	long := strings.Repeat("word ", 70000)
	body := []byte(`{"messages": [{"role": "user", "content": "` + long + `"}]}`)

	n, err := c.Count(body)
	require.NoError(t, err)
	assert.Greater(t, n, 60000)
}

func TestCounter_InvalidBodyReturnsError(t *testing.T) {
	c := NewCounter()
	_, err := c.Count([]byte("not json"))
	assert.Error(t, err)
}
