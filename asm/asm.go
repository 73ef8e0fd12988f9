// Package asm reads x86 assembly into the line records the engine runs on.
package asm

import (
	"bufio"
	"io"
	"strings"

	"github.com/benbjohnson/asmsym"
	"github.com/pkg/errors"
)

// CommentChars start a comment that runs to the end of the line.
const CommentChars = ";#"

// ParseLine parses one line of Intel syntax assembly:
//
//	[label:] [mnemonic [operand {, operand}]] [; comment]
//
// A blank or comment-only line yields an empty record.
func ParseLine(s string) (asmsym.Line, error) {
	var line asmsym.Line

	if i := strings.IndexAny(s, CommentChars); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	// Leading label.
	if i := strings.IndexByte(s, ':'); i >= 0 && !strings.ContainsAny(s[:i], " \t[") {
		line.Label = s[:i]
		if !isLabel(line.Label) {
			return line, errors.Errorf("invalid label: %q", line.Label)
		}
		s = strings.TrimSpace(s[i+1:])
	}
	if s == "" {
		return line, nil
	}

	i := strings.IndexAny(s, " \t")
	if i < 0 {
		line.Mnemonic = strings.ToLower(s)
		return line, nil
	}
	line.Mnemonic = strings.ToLower(s[:i])

	for _, arg := range strings.Split(s[i+1:], ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return line, errors.Errorf("empty operand: %q", s)
		}
		line.Args = append(line.Args, arg)
	}
	return line, nil
}

// Parse reads a program, one instruction per line.
func Parse(r io.Reader) ([]asmsym.Line, error) {
	var lines []asmsym.Line
	scanner := bufio.NewScanner(r)
	for i := 1; scanner.Scan(); i++ {
		line, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read")
	}
	return lines, nil
}

// ParseString parses a program held in a string.
func ParseString(s string) ([]asmsym.Line, error) {
	return Parse(strings.NewReader(s))
}

// Format writes lines in the syntax Parse reads.
func Format(w io.Writer, lines []asmsym.Line) error {
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if line.Label != "" {
			bw.WriteString(line.Label + ":")
			if line.Mnemonic != "" {
				bw.WriteString(" ")
			}
		} else if line.Mnemonic != "" {
			bw.WriteString("\t")
		}
		if line.Mnemonic != "" {
			bw.WriteString(line.Mnemonic)
		}
		if len(line.Args) > 0 {
			bw.WriteString(" " + strings.Join(line.Args, ", "))
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

func isLabel(s string) bool {
	for i, ch := range s {
		switch {
		case ch == '_' || ch == '.' || ch == '$' || ch == '@':
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
