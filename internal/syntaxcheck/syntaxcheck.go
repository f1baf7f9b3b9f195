// Package syntaxcheck implements the harness's abstract SyntaxChecker
// collaborator (spec §6) plus the soft textual rule set the Scorer
// applies directly (spec §4.6 step 4).
package syntaxcheck

import "strings"

// Result is the outcome of a compile/syntax check (spec §6:
// SyntaxChecker.Check(code) → {ok, errors}).
type Result struct {
	OK     bool
	Errors []string
}

// SyntaxChecker is the abstract hard compile-check collaborator. It
// must be pure-ish and quick (<5s per spec §6); a timeout counts as a
// failing Result rather than an error return, since the Scorer needs a
// Result either way to apply the jac_check penalty.
type SyntaxChecker interface {
	Check(code string) Result
}

// CheckTextual runs the soft textual rules named in spec §4.6 step 3:
// balanced braces/brackets/parens, no stray trailing commas before a
// closing bracket, and semicolons present where the line shape implies
// they're required. It returns one violation string per rule broken.
func CheckTextual(code string) []string {
	var violations []string

	if !bracesBalanced(code, '{', '}') {
		violations = append(violations, "unbalanced braces")
	}
	if !bracesBalanced(code, '[', ']') {
		violations = append(violations, "unbalanced brackets")
	}
	if !bracesBalanced(code, '(', ')') {
		violations = append(violations, "unbalanced parentheses")
	}
	if hasStrayTrailingComma(code) {
		violations = append(violations, "stray trailing comma before closing bracket")
	}
	if missingRequiredSemicolons(code) {
		violations = append(violations, "missing semicolon")
	}

	return violations
}

func bracesBalanced(code string, open, close rune) bool {
	depth := 0
	for _, r := range code {
		switch r {
		case open:
			depth++
		case close:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// hasStrayTrailingComma flags a comma immediately followed (ignoring
// whitespace) by a closing bracket/brace/paren.
func hasStrayTrailingComma(code string) bool {
	runes := []rune(code)
	for i, r := range runes {
		if r != ',' {
			continue
		}
		j := i + 1
		for j < len(runes) && isSpace(runes[j]) {
			j++
		}
		if j < len(runes) && (runes[j] == '}' || runes[j] == ']' || runes[j] == ')') {
			return true
		}
	}
	return false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// missingRequiredSemicolons is a light heuristic: a statement-shaped
// line (one containing `=` or starting with `return`) that doesn't end
// with `;`, `{`, `}`, `:`, or a line continuation is treated as missing
// its terminator; other lines are never flagged. This is
// intentionally permissive (comments, blank lines, and block
// delimiters never trip it) since it is a soft, small-fraction penalty
// rather than the hard compile check.
func missingRequiredSemicolons(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		last := trimmed[len(trimmed)-1]
		switch last {
		case ';', '{', '}', ':', ',', '(', '[', '+', '-', '*', '/', '&', '|', '=':
			continue
		}
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			continue
		}
		if strings.HasPrefix(trimmed, "func ") || strings.HasPrefix(trimmed, "if ") || strings.HasPrefix(trimmed, "for ") ||
			strings.HasPrefix(trimmed, "else") || strings.HasPrefix(trimmed, "package ") || strings.HasPrefix(trimmed, "import ") {
			continue
		}
		// Only statement-shaped lines (an assignment or a return) need a
		// terminator; bare expressions and prose fragments do not.
		if !strings.Contains(trimmed, "=") && !strings.HasPrefix(trimmed, "return") {
			continue
		}
		return true
	}
	return false
}
