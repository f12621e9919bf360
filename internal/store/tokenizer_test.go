package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCodeCamelCase(t *testing.T) {
	tokens := TokenizeCode("saveUser")
	assert.Contains(t, tokens, "saveuser")
	assert.Contains(t, tokens, "save")
	assert.Contains(t, tokens, "user")
}

func TestTokenizeCodeUnderscore(t *testing.T) {
	tokens := TokenizeCode("iso_to_date")
	assert.Contains(t, tokens, "iso_to_date")
	assert.Contains(t, tokens, "iso")
	assert.Contains(t, tokens, "to")
	assert.Contains(t, tokens, "date")
}

func TestTokenizeCodeDigits(t *testing.T) {
	tokens := TokenizeCode("sha256Sum")
	assert.Contains(t, tokens, "sha")
	assert.Contains(t, tokens, "256")
	assert.Contains(t, tokens, "sum")
}

func TestTokenizeCodeAcronymRun(t *testing.T) {
	tokens := TokenizeCode("HTTPServer")
	assert.Contains(t, tokens, "http")
	assert.Contains(t, tokens, "server")
}

func TestTokenizeCodePunctuation(t *testing.T) {
	tokens := TokenizeCode("func Add(a, b int) int")
	assert.Contains(t, tokens, "func")
	assert.Contains(t, tokens, "add")
	assert.Contains(t, tokens, "int")
	assert.NotContains(t, tokens, "(")
}

func TestTokenizeCodeSimpleWordNotDuplicated(t *testing.T) {
	tokens := TokenizeCode("hello")
	assert.Equal(t, []string{"hello"}, tokens)
}
