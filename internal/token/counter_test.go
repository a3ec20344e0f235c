package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterCountsTokens(t *testing.T) {
	c := NewCounter(DefaultEncoding)

	assert.Equal(t, 0, c.Count(""))

	n := c.Count("func main() { fmt.Println(\"hello\") }")
	assert.Greater(t, n, 0)
	// Token counts are always at or below character count.
	assert.LessOrEqual(t, n, len("func main() { fmt.Println(\"hello\") }"))
}

func TestCounterIsDeterministic(t *testing.T) {
	c := NewCounter(DefaultEncoding)
	text := "type Server struct { addr string }"
	assert.Equal(t, c.Count(text), c.Count(text))
}

func TestUnknownEncodingFallsBack(t *testing.T) {
	c := NewCounter("no_such_encoding")
	assert.Equal(t, HeuristicName, c.Name())
	assert.Equal(t, len("abcdefgh")/charsPerToken, c.Count("abcdefgh"))
	// Short text still counts as at least one token.
	assert.Equal(t, 1, c.Count("ab"))
}

func TestDefaultEncodingName(t *testing.T) {
	c := NewCounter("")
	if c.encoding != nil {
		assert.Equal(t, DefaultEncoding, c.Name())
	} else {
		assert.Equal(t, HeuristicName, c.Name())
	}
}
