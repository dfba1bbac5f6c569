package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/bmac-node/internal/eventloop/eventlooptest"
)

// ============================================================================
// Test helpers
// ============================================================================

type fakeQuery struct {
	responses []Endpoint
	closed    int
}

func (q *fakeQuery) Responses() []Endpoint { return q.responses }
func (q *fakeQuery) Close() error {
	q.closed++
	return nil
}

type fakeTransport struct {
	queries []*fakeQuery
	port    int
	filter  string
	err     error
}

func (t *fakeTransport) SendQuery(port int, filter string) (Query, error) {
	if t.err != nil {
		return nil, t.err
	}
	t.port, t.filter = port, filter
	q := &fakeQuery{}
	t.queries = append(t.queries, q)
	return q, nil
}

type result struct {
	calls      int
	candidates []Endpoint
	err        error
}

func (r *result) done(c []Endpoint, err error) {
	r.calls++
	r.candidates, r.err = c, err
}

// ============================================================================
// Discoverer
// ============================================================================

func TestDiscover_FirstCandidateAfterWindow(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{}
	d := New(tr, sched, 11310, "mqtt")

	var r result
	d.Discover(500*time.Millisecond, r.done)

	if tr.port != 11310 || tr.filter != "mqtt" {
		t.Errorf("query sent to port %d filter %q", tr.port, tr.filter)
	}

	q := tr.queries[0]
	q.responses = []Endpoint{
		{Address: "10.0.0.5", Port: 1883},
		{Address: "10.0.0.6", Port: 1884},
	}

	sched.Advance(499 * time.Millisecond)
	if r.calls != 0 {
		t.Fatal("done called before the window closed")
	}

	sched.Advance(time.Millisecond)
	if r.calls != 1 || r.err != nil {
		t.Fatalf("done calls = %d, err = %v", r.calls, r.err)
	}
	ep, err := First(r.candidates)
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if ep.URL() != "tcp://10.0.0.5:1883" {
		t.Errorf("URL() = %q, want tcp://10.0.0.5:1883", ep.URL())
	}
	if q.closed != 1 {
		t.Errorf("query closed %d times, want 1", q.closed)
	}
	if d.Running() {
		t.Error("Running() = true after window")
	}
}

func TestDiscover_NoResponses(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{}
	d := New(tr, sched, 11310, "mqtt")

	var r result
	d.Discover(500*time.Millisecond, r.done)
	sched.Advance(time.Second)

	if !errors.Is(r.err, ErrNoBrokerFound) {
		t.Errorf("err = %v, want ErrNoBrokerFound", r.err)
	}
	if tr.queries[0].closed != 1 {
		t.Error("query not released on the failure path")
	}
}

func TestDiscover_LateResponsesDropped(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{}
	d := New(tr, sched, 11310, "mqtt")

	var r result
	d.Discover(500*time.Millisecond, r.done)
	sched.Advance(500 * time.Millisecond)

	tr.queries[0].responses = []Endpoint{{Address: "10.0.0.9", Port: 1883}}
	sched.Advance(time.Second)

	if r.calls != 1 || !errors.Is(r.err, ErrNoBrokerFound) {
		t.Errorf("calls = %d, err = %v", r.calls, r.err)
	}
}

func TestDiscover_Cancel(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{}
	d := New(tr, sched, 11310, "mqtt")

	var r result
	d.Discover(500*time.Millisecond, r.done)
	d.Cancel()
	sched.Advance(time.Second)

	if r.calls != 0 {
		t.Errorf("done called %d times after Cancel", r.calls)
	}
	if tr.queries[0].closed != 1 {
		t.Error("Cancel did not close the query")
	}
	if sched.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", sched.PendingTimers())
	}
}

func TestDiscover_RestartDiscardsPrevious(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{}
	d := New(tr, sched, 11310, "mqtt")

	var first, second result
	d.Discover(500*time.Millisecond, first.done)
	d.Discover(500*time.Millisecond, second.done)
	tr.queries[1].responses = []Endpoint{{Address: "10.0.0.5", Port: 1883}}
	sched.Advance(time.Second)

	if first.calls != 0 {
		t.Error("discarded discovery reported a result")
	}
	if second.calls != 1 || second.err != nil {
		t.Errorf("second: calls = %d, err = %v", second.calls, second.err)
	}
}

func TestDiscover_SendFailure(t *testing.T) {
	sched := eventlooptest.New()
	tr := &fakeTransport{err: errors.New("network unreachable")}
	d := New(tr, sched, 11310, "mqtt")

	var r result
	d.Discover(500*time.Millisecond, r.done)

	if !errors.Is(r.err, ErrQueryFailed) {
		t.Errorf("err = %v, want ErrQueryFailed", r.err)
	}
	if d.Running() {
		t.Error("Running() = true after send failure")
	}
}

func TestFirst_Empty(t *testing.T) {
	if _, err := First(nil); !errors.Is(err, ErrNoBrokerFound) {
		t.Errorf("First(nil) error = %v", err)
	}
}
