package asmsym

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/tools/container/intsets"
)

// LabelSeparator joins a label with the line number it is defined at.
// It is not allowed inside label identifiers.
const LabelSeparator = "!"

// LabelWithLine returns label qualified by its defining line.
func LabelWithLine(label string, line int) string {
	return label + LabelSeparator + strconv.Itoa(line)
}

// Line is one parsed source line.
type Line struct {
	Label    string
	Mnemonic string
	Args     []string
}

// String returns the line in Intel syntax.
func (l Line) String() string {
	var buf strings.Builder
	if l.Label != "" {
		buf.WriteString(l.Label)
		buf.WriteString(":")
		if l.Mnemonic != "" {
			buf.WriteString(" ")
		}
	}
	buf.WriteString(l.Mnemonic)
	if len(l.Args) > 0 {
		buf.WriteString(" ")
		buf.WriteString(strings.Join(l.Args, ", "))
	}
	return buf.String()
}

// Pred is an incoming control flow edge.
type Pred struct {
	Line     int
	IsBranch bool
}

// StaticFlow is the control flow graph of a program. Line numbers index
// Lines; the line number len(Lines) is the end of the program and has no
// successors.
type StaticFlow struct {
	Lines    []Line
	Labels   map[string]int
	Warnings []string

	next   []int // regular successor or -1
	branch []int // branch successor or -1
	preds  [][]Pred
	future []*intsets.Sparse
}

// NewStaticFlow builds the control flow graph of lines.
func NewStaticFlow(lines []Line) *StaticFlow {
	n := len(lines)
	f := &StaticFlow{
		Lines:  lines,
		Labels: make(map[string]int),
		next:   make([]int, n+1),
		branch: make([]int, n+1),
		preds:  make([][]Pred, n+1),
		future: make([]*intsets.Sparse, n+1),
	}

	for i, line := range lines {
		if line.Label == "" {
			continue
		}
		if strings.Contains(line.Label, LabelSeparator) {
			f.warnf("line %d: label %q contains the reserved separator %q", i, line.Label, LabelSeparator)
		}
		if prev, ok := f.Labels[line.Label]; ok {
			f.warnf("line %d: duplicate label %q, using line %d", i, line.Label, prev)
			continue
		}
		f.Labels[line.Label] = i
	}

	for i, line := range lines {
		f.next[i], f.branch[i] = -1, -1

		kind := FlowNext
		if m, _, ok := ParseMnemonic(line.Mnemonic); ok {
			kind = m.Flow()
		}
		if kind.HasRegular() {
			f.next[i] = i + 1
		}
		if kind.HasBranch() {
			if len(line.Args) == 0 {
				f.warnf("line %d: %s has no target", i, line.Mnemonic)
			} else if target, ok := f.ResolveLabel(line.Args[0]); ok {
				f.branch[i] = target
			} else {
				f.warnf("line %d: unresolved target %q", i, line.Args[0])
			}
		}
	}
	f.next[n], f.branch[n] = -1, -1

	for i := 0; i < n; i++ {
		if j := f.next[i]; j >= 0 {
			f.preds[j] = append(f.preds[j], Pred{Line: i})
		}
		if j := f.branch[i]; j >= 0 {
			f.preds[j] = append(f.preds[j], Pred{Line: i, IsBranch: true})
		}
	}
	return f
}

func (f *StaticFlow) warnf(format string, args ...interface{}) {
	f.Warnings = append(f.Warnings, fmt.Sprintf(format, args...))
}

// N returns the number of lines. It is also the end line.
func (f *StaticFlow) N() int {
	return len(f.Lines)
}

// IsValidLine returns true if line is a program line or the end line.
func (f *StaticFlow) IsValidLine(line int) bool {
	return line >= 0 && line <= len(f.Lines)
}

// ResolveLabel returns the line a label refers to. A label qualified with
// LabelWithLine resolves to its line when the line defines that label.
func (f *StaticFlow) ResolveLabel(label string) (int, bool) {
	if line, ok := f.Labels[label]; ok {
		return line, true
	}
	if i := strings.LastIndex(label, LabelSeparator); i > 0 {
		line, err := strconv.Atoi(label[i+1:])
		if err == nil && line >= 0 && line < len(f.Lines) && f.Lines[line].Label == label[:i] {
			return line, true
		}
	}
	return -1, false
}

// Successors returns the regular and branch successors of line, or -1 for none.
func (f *StaticFlow) Successors(line int) (next, branch int) {
	f.mustLine(line)
	return f.next[line], f.branch[line]
}

// Predecessors returns the incoming edges of line.
func (f *StaticFlow) Predecessors(line int) []Pred {
	f.mustLine(line)
	return f.preds[line]
}

// IsBranchPoint returns true if line has two distinct successors.
func (f *StaticFlow) IsBranchPoint(line int) bool {
	next, branch := f.Successors(line)
	return next >= 0 && branch >= 0 && next != branch
}

// IsMergePoint returns true if line has at least two distinct predecessors.
func (f *StaticFlow) IsMergePoint(line int) bool {
	var first = -1
	for _, p := range f.Predecessors(line) {
		if first == -1 {
			first = p.Line
		} else if p.Line != first {
			return true
		}
	}
	return false
}

// FutureLines returns every line reachable from line by at least one edge.
// The set includes line itself only if line is in a loop.
func (f *StaticFlow) FutureLines(line int) *intsets.Sparse {
	f.mustLine(line)
	if f.future[line] == nil {
		var visited intsets.Sparse
		stack := f.successorList(line, nil)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !visited.Insert(i) {
				continue
			}
			stack = f.successorList(i, stack)
		}
		f.future[line] = &visited
	}
	return f.future[line]
}

func (f *StaticFlow) successorList(line int, a []int) []int {
	if j := f.next[line]; j >= 0 {
		a = append(a, j)
	}
	if j := f.branch[line]; j >= 0 {
		a = append(a, j)
	}
	return a
}

// HasCodePath returns true if to is reachable from from.
func (f *StaticFlow) HasCodePath(from, to int) bool {
	f.mustLine(to)
	return f.FutureLines(from).Has(to)
}

// IsLoopBranchPoint returns true if exactly one successor of a branch point
// leads back to line. It returns the successor that stays in the loop and
// the one that exits it.
func (f *StaticFlow) IsLoopBranchPoint(line int) (stay, exit int, ok bool) {
	if !f.IsBranchPoint(line) {
		return -1, -1, false
	}
	next, branch := f.Successors(line)
	reaches := func(i int) bool { return i == line || f.HasCodePath(i, line) }

	switch nextLoops, branchLoops := reaches(next), reaches(branch); {
	case nextLoops && !branchLoops:
		return next, branch, true
	case branchLoops && !nextLoops:
		return branch, next, true
	default:
		return -1, -1, false
	}
}

// IsLoopMergePoint returns true if a merge point is the head of a loop: one
// of its predecessors is reachable from it. It returns the smallest such
// back edge source.
func (f *StaticFlow) IsLoopMergePoint(line int) (pred int, ok bool) {
	if !f.IsMergePoint(line) {
		return -1, false
	}
	pred = -1
	for _, p := range f.Predecessors(line) {
		if p.Line != line && !f.HasCodePath(line, p.Line) {
			continue
		}
		if pred == -1 || p.Line < pred {
			pred = p.Line
		}
	}
	return pred, pred != -1
}

// BranchPoints returns every branch point in line order.
func (f *StaticFlow) BranchPoints() []int {
	var a []int
	for i := range f.Lines {
		if f.IsBranchPoint(i) {
			a = append(a, i)
		}
	}
	return a
}

// MergePoints returns every merge point in line order, including the end line.
func (f *StaticFlow) MergePoints() []int {
	var a []int
	for i := 0; i <= len(f.Lines); i++ {
		if f.IsMergePoint(i) {
			a = append(a, i)
		}
	}
	return a
}

func (f *StaticFlow) mustLine(line int) {
	assert(f.IsValidLine(line), "line %d out of range [0,%d]", line, len(f.Lines))
}

// String returns a table of every line with its edges.
func (f *StaticFlow) String() string {
	var buf strings.Builder
	for i, line := range f.Lines {
		fmt.Fprintf(&buf, "%4d  %-32s", i, line.String())
		if f.next[i] >= 0 {
			fmt.Fprintf(&buf, " next=%d", f.next[i])
		}
		if f.branch[i] >= 0 {
			fmt.Fprintf(&buf, " branch=%d", f.branch[i])
		}
		if f.IsBranchPoint(i) {
			buf.WriteString(" [branch]")
		}
		if f.IsMergePoint(i) {
			buf.WriteString(" [merge]")
		}
		buf.WriteString("\n")
	}
	fmt.Fprintf(&buf, "%4d  <end>\n", len(f.Lines))
	return buf.String()
}
