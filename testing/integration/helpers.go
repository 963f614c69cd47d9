package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/splitz"
	"github.com/zoobzio/splitz/par"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
type MockCollector struct {
	*splitz.Collector
	t        *testing.T
	mu       sync.Mutex
	exported []splitz.Span
}

// NewMockCollector creates a synchronous collector and registers it on tracer.
func NewMockCollector(t *testing.T, tracer *splitz.Tracer, name string, bufferSize int) *MockCollector {
	t.Helper()
	collector := splitz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	tracer.AddCollector(name, collector)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every span collected so far.
func (m *MockCollector) GetAll() []splitz.Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]splitz.Span, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForSpans waits until at least expected spans were collected.
func (m *MockCollector) WaitForSpans(expected int, timeout time.Duration) []splitz.Span {
	m.t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if spans := m.GetAll(); len(spans) >= expected {
			return spans
		}
		<-ticker.C
	}

	spans := m.GetAll()
	m.t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

// AssertSpanNamed returns the first span with the given name.
func (m *MockCollector) AssertSpanNamed(name string) *splitz.Span {
	m.t.Helper()
	spans := m.GetAll()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// AssertParentChild verifies that some span named childName hangs from a
// span named parentName in the same trace.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	m.t.Helper()
	a := NewTraceAnalyzer(m.GetAll())
	for _, child := range a.GetSpansByName(childName) {
		parent, ok := a.GetSpan(child.ParentID)
		if ok && parent.Name == parentName && parent.TraceID == child.TraceID {
			return
		}
	}
	m.t.Errorf("No '%s' span is a child of a '%s' span", childName, parentName)
}

// SpanMatcher provides fluent assertions for spans.
type SpanMatcher struct {
	t    *testing.T
	span *splitz.Span
}

// NewSpanMatcher creates a matcher for span assertions.
func NewSpanMatcher(t *testing.T, span *splitz.Span) *SpanMatcher {
	return &SpanMatcher{t: t, span: span}
}

// HasTag verifies tag exists with value.
func (m *SpanMatcher) HasTag(key, value string) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if actual, exists := m.span.Tags[key]; !exists {
		m.t.Errorf("Span %s missing tag '%s'", m.span.Name, key)
	} else if actual != value {
		m.t.Errorf("Span %s tag '%s': expected '%s', got '%s'", m.span.Name, key, value, actual)
	}
	return m
}

// HasEvent verifies the span carries an event with the given name and
// returns it.
func (m *SpanMatcher) HasEvent(name string) *splitz.Event {
	m.t.Helper()
	if m.span == nil {
		return nil
	}
	for i := range m.span.Events {
		if m.span.Events[i].Name == name {
			return &m.span.Events[i]
		}
	}
	m.t.Errorf("Span %s has no '%s' event", m.span.Name, name)
	return nil
}

// HasParent verifies parent relationship.
func (m *SpanMatcher) HasParent(parentID string) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if m.span.ParentID != parentID {
		m.t.Errorf("Span %s wrong parent: expected %s, got %s", m.span.Name, parentID, m.span.ParentID)
	}
	return m
}

// TraceAnalyzer provides trace-level assertions over collected spans.
type TraceAnalyzer struct {
	spans  []splitz.Span
	byID   map[string]splitz.Span
	byName map[string][]splitz.Span
	roots  []*splitz.Node
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []splitz.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byID:   make(map[string]splitz.Span, len(spans)),
		byName: make(map[string][]splitz.Span),
	}
	for _, span := range spans {
		a.byID[span.SpanID] = span
		a.byName[span.Name] = append(a.byName[span.Name], span)
	}
	a.roots = splitz.BuildTree(spans)
	return a
}

// GetSpan retrieves span by ID.
func (a *TraceAnalyzer) GetSpan(spanID string) (splitz.Span, bool) {
	span, exists := a.byID[spanID]
	return span, exists
}

// GetSpansByName retrieves all spans with given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []splitz.Span {
	return a.byName[name]
}

// Roots returns the root of every trace.
func (a *TraceAnalyzer) Roots() []*splitz.Node {
	return a.roots
}

// CountSpans returns total span count.
func (a *TraceAnalyzer) CountSpans() int {
	return len(a.spans)
}

// VerifySplitTree checks the structure every traced drive produces below
// root: branches open one parallel or fold span, parallel spans open one
// left and one right branch, and folds are leaves.
func (*TraceAnalyzer) VerifySplitTree(root *splitz.Node) error {
	var err error
	var visit func(n *splitz.Node)
	visit = func(n *splitz.Node) {
		if err != nil {
			return
		}
		switch n.Span.Name {
		case splitz.SpanLeft, splitz.SpanRight:
			if len(n.Children) != 1 {
				err = fmt.Errorf("%s span %s has %d children", n.Span.Name, n.Span.SpanID, len(n.Children))
				return
			}
			if c := n.Children[0].Span.Name; c != splitz.SpanParallel && c != splitz.SpanFold {
				err = fmt.Errorf("%s span %s opens %q", n.Span.Name, n.Span.SpanID, c)
				return
			}
		case splitz.SpanParallel:
			if len(n.Children) != 2 {
				err = fmt.Errorf("parallel span %s has %d children", n.Span.SpanID, len(n.Children))
				return
			}
			names := map[string]bool{n.Children[0].Span.Name: true, n.Children[1].Span.Name: true}
			if !names[splitz.SpanLeft] || !names[splitz.SpanRight] {
				err = fmt.Errorf("parallel span %s does not open one left and one right branch", n.Span.SpanID)
				return
			}
		case splitz.SpanFold:
			if len(n.Children) != 0 {
				err = fmt.Errorf("fold span %s has children", n.Span.SpanID)
				return
			}
		}
		for _, c := range n.Children {
			visit(c)
		}
	}

	if len(root.Children) != 1 || root.Children[0].Span.Name != splitz.SpanRight {
		return fmt.Errorf("drive %q does not open a single right branch", root.Span.Name)
	}
	visit(root.Children[0])
	return err
}

// GetCriticalPath returns the longest duration path from any root.
func (a *TraceAnalyzer) GetCriticalPath() []splitz.Span {
	var maxPath []splitz.Span
	var maxDuration time.Duration
	for _, root := range a.roots {
		path := longestPath(root)
		if d := pathDuration(path); maxPath == nil || d > maxDuration {
			maxDuration = d
			maxPath = path
		}
	}
	return maxPath
}

func longestPath(node *splitz.Node) []splitz.Span {
	path := []splitz.Span{node.Span}
	var longest []splitz.Span
	var longestDuration time.Duration
	for _, child := range node.Children {
		p := longestPath(child)
		if d := pathDuration(p); longest == nil || d > longestDuration {
			longestDuration = d
			longest = p
		}
	}
	return append(path, longest...)
}

func pathDuration(path []splitz.Span) time.Duration {
	var total time.Duration
	for i := range path {
		total += path[i].Duration
	}
	return total
}

// PoolContext returns a context carrying a fresh pool that is closed when
// the test ends.
func PoolContext(t *testing.T, opts ...par.Option) context.Context {
	t.Helper()
	p := par.New(opts...)
	t.Cleanup(p.Close)
	return par.WithPool(context.Background(), p)
}

// Seq returns the integers [0, n).
func Seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
