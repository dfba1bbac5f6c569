package discovery

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEncodeQuery_Layout(t *testing.T) {
	got, err := EncodeQuery([]QueryFilter{{Protocol: ProtocolAll, Filter: "mqtt"}})
	if err != nil {
		t.Fatalf("EncodeQuery() error = %v", err)
	}
	want := []byte{'N', 'Y', 'A', 'N', 'S', 'D', 0x01, 0x01, 0x00, 0x00, 0x04, 'm', 'q', 't', 't'}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeQuery() = %x, want %x", got, want)
	}

	filters, err := DecodeQuery(got)
	if err != nil || len(filters) != 1 || filters[0].Filter != "mqtt" {
		t.Errorf("DecodeQuery() = %+v, %v", filters, err)
	}
}

func TestDecodeResponse_Layout(t *testing.T) {
	data := []byte{'N', 'Y', 'A', 'N', 'S', 'D', 0x02, 0x01,
		0x0a, 0x00, 0x00, 0x05, // 10.0.0.5
		0x07, 0x5b, // 1883
		0x01,
		0x00, 0x02, 'm', 'q',
		0x00, 0x04, 'm', 'q', 't', 't',
	}
	records, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	ep := records[0].Endpoint(net.IPv4(192, 168, 1, 1))
	if ep.Address != "10.0.0.5" || ep.Port != 1883 || ep.Hostname != "mq" || ep.Service != "mqtt" {
		t.Errorf("Endpoint() = %+v", ep)
	}
}

func TestServiceRecord_ZeroAddressUsesSender(t *testing.T) {
	ep := ServiceRecord{Port: 1883}.Endpoint(net.IPv4(192, 168, 1, 7))
	if ep.Address != "192.168.1.7" {
		t.Errorf("Address = %q, want sender", ep.Address)
	}
}

func TestDecode_Malformed(t *testing.T) {
	valid, _ := EncodeResponse([]ServiceRecord{{IPv4: 1, Port: 1883, Service: "mqtt"}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NYANSX\x02\x00")},
		{"query type", []byte("NYANSD\x01\x00")},
		{"truncated record", valid[:len(valid)-2]},
		{"count overstates", append([]byte("NYANSD\x02\x02"), valid[8:]...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeResponse(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeResponse() error = %v, want ErrMalformed", err)
			}
		})
	}
}

// TestUDPTransport_Loopback runs a query against a responder on 127.0.0.1.
func TestUDPTransport_Loopback(t *testing.T) {
	responder, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open UDP socket: %v", err)
	}
	defer responder.Close() //nolint:errcheck // Test cleanup

	go func() {
		buf := make([]byte, 512)
		n, from, err := responder.ReadFrom(buf)
		if err != nil {
			return
		}
		filters, err := DecodeQuery(buf[:n])
		if err != nil || len(filters) != 1 || filters[0].Filter != "mqtt" {
			return
		}
		resp, _ := EncodeResponse([]ServiceRecord{{Port: 1883, Protocol: ProtocolTCP, Service: "mqtt"}})
		responder.WriteTo([]byte("garbage"), from) //nolint:errcheck // Test responder
		responder.WriteTo(resp, from)              //nolint:errcheck // Test responder
	}()

	tr := NewUDPTransport("127.0.0.1")
	port := responder.LocalAddr().(*net.UDPAddr).Port
	q, err := tr.SendQuery(port, "mqtt")
	if err != nil {
		t.Fatalf("SendQuery() error = %v", err)
	}
	defer q.Close() //nolint:errcheck // Test cleanup

	deadline := time.Now().Add(2 * time.Second)
	for len(q.Responses()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	responses := q.Responses()
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if responses[0].URL() != "tcp://127.0.0.1:1883" {
		t.Errorf("URL() = %q", responses[0].URL())
	}

	if err := q.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
