package influxdb

import (
	"sync"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/bmac-node/internal/infrastructure/logging"
)

// fakeWriteAPI records points instead of sending them.
type fakeWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
	errs   chan error
}

func newFakeWriteAPI() *fakeWriteAPI {
	return &fakeWriteAPI{errs: make(chan error)}
}

func (f *fakeWriteAPI) WriteRecord(string) {}

func (f *fakeWriteAPI) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriteAPI) Flush()                                         {}
func (f *fakeWriteAPI) Errors() <-chan error                           { return f.errs }
func (f *fakeWriteAPI) SetWriteFailedCallback(api.WriteFailedCallback) {}

func connectedFake() (*Client, *fakeWriteAPI) {
	fake := newFakeWriteAPI()
	return &Client{writeAPI: fake}, fake
}

func tagValue(p *write.Point, key string) string {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

func fieldValue(p *write.Point, key string) interface{} {
	for _, field := range p.FieldList() {
		if field.Key == key {
			return field.Value
		}
	}
	return nil
}

func TestWriteLog(t *testing.T) {
	client, fake := connectedFake()

	client.WriteLog("5ccf7f0a1b2c", logging.CodeWarning, "slow flash")

	if len(fake.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(fake.points))
	}
	p := fake.points[0]
	if p.Name() != MeasurementLog {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementLog)
	}
	if got := tagValue(p, "node"); got != "5ccf7f0a1b2c" {
		t.Errorf("node tag = %q", got)
	}
	if got := tagValue(p, "level"); got != "warning" {
		t.Errorf("level tag = %q, want warning", got)
	}
	if got := fieldValue(p, "message"); got != "slow flash" {
		t.Errorf("message field = %v", got)
	}
}

func TestWriteState(t *testing.T) {
	client, fake := connectedFake()

	client.WriteState("fp", "Kitchen", 0x101, 1)

	if len(fake.points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(fake.points))
	}
	p := fake.points[0]
	if p.Name() != MeasurementState {
		t.Errorf("Name() = %q", p.Name())
	}
	if got := tagValue(p, "location"); got != "Kitchen" {
		t.Errorf("location tag = %q", got)
	}
	if got := fieldValue(p, "active_mask"); got != int64(0x101) {
		t.Errorf("active_mask field = %v", got)
	}
}

func TestWritePoint_AfterClose(t *testing.T) {
	client, fake := connectedFake()
	client.closed.Store(true)

	client.WriteLog("fp", logging.CodeError, "dropped")

	if len(fake.points) != 0 {
		t.Errorf("wrote %d points after close", len(fake.points))
	}
}

func TestLogSink_ReadsFingerprintPerRecord(t *testing.T) {
	client, fake := connectedFake()
	fp := ""
	sink := NewLogSink(client, func() string { return fp })

	sink.Emit(logging.CodeInfo, "before association")
	fp = "abc"
	sink.Emit(logging.CodeDebug, "after association")

	if len(fake.points) != 2 {
		t.Fatalf("wrote %d points, want 2", len(fake.points))
	}
	if got := tagValue(fake.points[0], "node"); got != "" {
		t.Errorf("first node tag = %q, want empty", got)
	}
	if got := tagValue(fake.points[1], "node"); got != "abc" {
		t.Errorf("second node tag = %q, want abc", got)
	}
	if got := tagValue(fake.points[1], "level"); got != "debug" {
		t.Errorf("second level tag = %q, want debug", got)
	}
}

func TestLevelTag(t *testing.T) {
	tests := map[logging.Code]string{
		logging.CodeError:   "error",
		logging.CodeWarning: "warning",
		logging.CodeInfo:    "info",
		logging.CodeDebug:   "debug",
	}
	for code, want := range tests {
		if got := levelTag(code); got != want {
			t.Errorf("levelTag(%d) = %q, want %q", code, got, want)
		}
	}
}
