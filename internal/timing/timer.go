package timing

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timer collects named start/stop phase spans for one recomputation run.
// Spans are reported once at the end of the run, not as they close.
type Timer struct {
	mu      sync.Mutex
	open    map[string]time.Time
	elapsed map[string]time.Duration
	order   []string
}

// NewTimer creates an empty timer
func NewTimer() *Timer {
	return &Timer{
		open:    make(map[string]time.Time),
		elapsed: make(map[string]time.Duration),
	}
}

// Start opens a named span. Restarting an open span resets it.
func (t *Timer) Start(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.elapsed[name]; !seen {
		if _, running := t.open[name]; !running {
			t.order = append(t.order, name)
		}
	}
	t.open[name] = time.Now()
}

// Stop closes a named span, accumulating its elapsed time.
// Stopping a span that was never started is a no-op.
func (t *Timer) Stop(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.open[name]
	if !ok {
		return
	}
	delete(t.open, name)
	t.elapsed[name] += time.Since(started)
}

// Spans returns the closed spans in the order they were first started
func (t *Timer) Spans() []Span {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	spans := make([]Span, 0, len(t.elapsed))
	for _, name := range t.order {
		if d, ok := t.elapsed[name]; ok {
			spans = append(spans, Span{Name: name, Elapsed: d})
		}
	}
	return spans
}

// Span is one closed, named phase measurement
type Span struct {
	Name    string
	Elapsed time.Duration
}

// Fields renders the closed spans as zap fields for the end-of-run report,
// sorted by descending elapsed time so the slowest phase leads.
func (t *Timer) Fields() []zap.Field {
	spans := t.Spans()
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Elapsed > spans[j].Elapsed
	})
	fields := make([]zap.Field, 0, len(spans))
	for _, s := range spans {
		fields = append(fields, zap.Duration(s.Name, s.Elapsed))
	}
	return fields
}
