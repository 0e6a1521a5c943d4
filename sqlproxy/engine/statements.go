package engine

import (
	"strings"
)

// splitStatements breaks script into its statements, in order. Semicolons
// inside literals, quoted identifiers, comments and trigger bodies do not end
// a statement. Pieces holding only whitespace or comments are dropped.
func splitStatements(script string) []string {
	var (
		statements []string
		start      int
		head       []string // leading keywords of the current statement
		lastWord   string   // most recent token if it was a word, else ""
		hasToken   bool
	)

	flush := func(end int) {
		if hasToken {
			statements = append(statements, strings.TrimSpace(script[start:end]))
		}
		start = end + 1
		head = head[:0]
		lastWord = ""
		hasToken = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':

		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script)
			} else {
				i += end
			}

		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 3
			}

		case c == '\'' || c == '"' || c == '`' || c == '[':
			closer := c
			if c == '[' {
				closer = ']'
			}
			// A doubled quote reopens on the next iteration, which keeps it
			// inside the same token.
			end := strings.IndexByte(script[i+1:], closer)
			if end < 0 {
				i = len(script)
			} else {
				i += end + 1
			}
			lastWord = ""
			hasToken = true

		case c == ';':
			if isTrigger(head) && lastWord != "END" {
				lastWord = ""
				continue
			}
			flush(i)

		case isWordByte(c):
			j := i
			for j < len(script) && isWordByte(script[j]) {
				j++
			}
			lastWord = strings.ToUpper(script[i:j])
			if len(head) < 3 {
				head = append(head, lastWord)
			}
			hasToken = true
			i = j - 1

		default:
			lastWord = ""
			hasToken = true
		}
	}
	if start < len(script) {
		flush(len(script))
	}
	return statements
}

// isTrigger reports whether the leading keywords open a CREATE TRIGGER, whose
// body statements end in semicolons of their own.
func isTrigger(head []string) bool {
	if len(head) < 2 || head[0] != "CREATE" {
		return false
	}
	if head[1] == "TRIGGER" {
		return true
	}
	return len(head) > 2 && (head[1] == "TEMP" || head[1] == "TEMPORARY") && head[2] == "TRIGGER"
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
