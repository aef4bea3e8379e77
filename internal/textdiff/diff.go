// Package textdiff computes line-level change scripts between two document
// snapshots. The comparison runs on whole-line tokens, so a one-character
// edit reports one deleted and one inserted line, which is what version
// history viewers expect.
package textdiff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Kind string

const (
	Equal  Kind = "equal"
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Op is a single line operation. Line carries no trailing newline.
type Op struct {
	Kind Kind   `json:"kind"`
	Line string `json:"line"`
}

// Result is the ordered change script plus aggregate counts. Equal lines are
// present in Ops but never counted.
type Result struct {
	Ops        []Op `json:"ops"`
	Insertions int  `json:"insertions"`
	Removals   int  `json:"removals"`
}

// Diff produces the line change script from a to b. Diff(a, b) and
// Diff(b, a) are logical inverses: insertions and removals swap.
func Diff(a, b string) Result {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var result Result
	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				result.Ops = append(result.Ops, Op{Kind: Equal, Line: line})
			case diffmatchpatch.DiffInsert:
				result.Ops = append(result.Ops, Op{Kind: Insert, Line: line})
				result.Insertions++
			case diffmatchpatch.DiffDelete:
				result.Ops = append(result.Ops, Op{Kind: Delete, Line: line})
				result.Removals++
			}
		}
	}
	return result
}

// Unified renders the diff in unified format with three lines of context.
func Unified(a, b, fromLabel, toLabel string) string {
	return UnifiedContext(a, b, fromLabel, toLabel, 3)
}

// UnifiedContext renders the diff in unified format with the given number of
// context lines around each change hunk.
func UnifiedContext(a, b, fromLabel, toLabel string, context int) string {
	if context < 0 {
		context = 0
	}
	result := Diff(a, b)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", fromLabel, toLabel)

	// 1-based source positions of each op.
	aPos := make([]int, len(result.Ops))
	bPos := make([]int, len(result.Ops))
	aLine, bLine := 1, 1
	changed := make([]int, 0)
	for i, op := range result.Ops {
		aPos[i] = aLine
		bPos[i] = bLine
		switch op.Kind {
		case Equal:
			aLine++
			bLine++
		case Delete:
			aLine++
			changed = append(changed, i)
		case Insert:
			bLine++
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return sb.String()
	}

	// Group changes whose equal-line gap fits inside 2*context into hunks.
	type hunk struct{ start, end int }
	hunks := []hunk{{start: changed[0], end: changed[0]}}
	for _, idx := range changed[1:] {
		last := &hunks[len(hunks)-1]
		if idx-last.end-1 <= 2*context {
			last.end = idx
			continue
		}
		hunks = append(hunks, hunk{start: idx, end: idx})
	}

	for _, h := range hunks {
		start := h.start - context
		if start < 0 {
			start = 0
		}
		end := h.end + context
		if end > len(result.Ops)-1 {
			end = len(result.Ops) - 1
		}

		aCount, bCount := 0, 0
		for i := start; i <= end; i++ {
			switch result.Ops[i].Kind {
			case Equal:
				aCount++
				bCount++
			case Delete:
				aCount++
			case Insert:
				bCount++
			}
		}
		aStart, bStart := aPos[start], bPos[start]
		if aCount == 0 {
			aStart--
		}
		if bCount == 0 {
			bStart--
		}
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", aStart, aCount, bStart, bCount)

		for i := start; i <= end; i++ {
			op := result.Ops[i]
			switch op.Kind {
			case Equal:
				sb.WriteByte(' ')
			case Delete:
				sb.WriteByte('-')
			case Insert:
				sb.WriteByte('+')
			}
			sb.WriteString(op.Line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// splitLines splits text into lines without trailing newlines. Empty input
// yields no lines; a trailing newline does not produce a phantom final line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
