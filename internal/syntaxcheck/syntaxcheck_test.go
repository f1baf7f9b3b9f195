package syntaxcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTextual_Balanced(t *testing.T) {
	assert.Empty(t, CheckTextual("func A() { return 1; }"))
}

func TestCheckTextual_UnbalancedBraces(t *testing.T) {
	assert.Contains(t, CheckTextual("func A() { return 1;"), "unbalanced braces")
}

func TestCheckTextual_StrayTrailingComma(t *testing.T) {
	assert.Contains(t, CheckTextual("f(a, b, )"), "stray trailing comma before closing bracket")
}

func TestCheckTextual_MissingSemicolon(t *testing.T) {
	violations := CheckTextual("x = 1\ny = 2")
	assert.Contains(t, violations, "missing semicolon")
}

func TestCheckTextual_MultipleViolations(t *testing.T) {
	violations := CheckTextual("func A( {\nx = 1\n")
	assert.NotEmpty(t, violations)
}
