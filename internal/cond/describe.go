package cond

import "strings"

// DescribeNested reformats a bracketed expression produced by Describe or
// DescribeWithResult into an indented block: each bracket level is moved to
// its own line and indented one space per nesting depth. The outermost pair
// of brackets is stripped.
func DescribeNested(expr string) string {
	if strings.HasPrefix(expr, "[") {
		expr = expr[1:]
	}
	if strings.HasSuffix(expr, "]") {
		expr = expr[:len(expr)-1]
	}

	expr = strings.ReplaceAll(expr, "[", "[\n")
	expr = strings.ReplaceAll(expr, "]", "\n]")

	level := 0
	lines := strings.Split(expr, "\n")
	for i, line := range lines {
		if strings.Contains(line, "[") {
			lines[i] = strings.Repeat(" ", level) + line
			level++
			continue
		}
		if strings.Contains(line, "]") {
			level--
		}
		lines[i] = strings.Repeat(" ", level) + line
	}

	return strings.Join(lines, "\n")
}
