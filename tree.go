package splitz

import (
	"slices"
	"strings"
)

// Side tells which half of a split a consumer is.
type Side uint8

// The zero Side is right: the root consumer is never a left half.
const (
	Right Side = iota
	Left
)

// Key returns the span name of the branch span opened for s.
func (s Side) Key() Key {
	if s == Left {
		return SpanLeft
	}
	return SpanRight
}

// branchSpans opens the branch span for side under parent and a child span
// named inner beneath it.
func (t *Tracer) branchSpans(parent Ref, side Side, inner Key, tags map[Tag]string) (branch, child *ActiveSpan) {
	branch = t.Start(parent, side.Key(), nil)
	child = t.Start(branch.Ref(), inner, tags)
	return branch, child
}

// Node is a span together with its children, ordered by start time.
type Node struct {
	Span     Span
	Children []*Node
}

// Find returns every node in the subtree rooted at n named name, in
// depth-first order.
func (n *Node) Find(name Key) []*Node {
	var out []*Node
	n.walk(func(m *Node) {
		if m.Span.Name == name {
			out = append(out, m)
		}
	})
	return out
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	c := 0
	n.walk(func(*Node) { c++ })
	return c
}

// Depth returns the number of levels in the subtree rooted at n.
func (n *Node) Depth() int {
	d := 0
	for _, c := range n.Children {
		d = max(d, c.Depth())
	}
	return d + 1
}

// String renders the subtree as an indented list of span names.
func (n *Node) String() string {
	var b strings.Builder
	n.render(&b, 0)
	return b.String()
}

func (n *Node) render(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Span.Name)
	b.WriteByte('\n')
	for _, c := range n.Children {
		c.render(b, depth+1)
	}
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// BuildTree links finished spans into trees. Spans whose parent is not among
// spans become roots. Roots and children are ordered by start time.
func BuildTree(spans []Span) []*Node {
	nodes := make(map[string]*Node, len(spans))
	for i := range spans {
		nodes[spans[i].SpanID] = &Node{Span: spans[i]}
	}

	var roots []*Node
	for i := range spans {
		n := nodes[spans[i].SpanID]
		if p, ok := nodes[spans[i].ParentID]; ok && spans[i].ParentID != "" {
			p.Children = append(p.Children, n)
		} else {
			roots = append(roots, n)
		}
	}

	byStart := func(a, b *Node) int {
		return a.Span.StartTime.Compare(b.Span.StartTime)
	}
	for _, n := range nodes {
		slices.SortStableFunc(n.Children, byStart)
	}
	slices.SortStableFunc(roots, byStart)
	return roots
}
