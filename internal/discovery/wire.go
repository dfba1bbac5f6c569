package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Datagram layout (all integers big-endian):
//
//	query:    "NYANSD" | type=0x01 | count | { protocol | len u16 | filter }*
//	response: "NYANSD" | type=0x02 | count | { ipv4 u32 | port u16 | protocol |
//	          len u16 | hostname | len u16 | service }*

var magic = []byte("NYANSD")

// Message types.
const (
	TypeQuery    byte = 0x01
	TypeResponse byte = 0x02
)

// Protocol selectors.
const (
	ProtocolAll byte = 0x00
	ProtocolTCP byte = 0x01
	ProtocolUDP byte = 0x02
)

// QueryFilter is one service filter in a query.
type QueryFilter struct {
	Protocol byte
	Filter   string
}

// ServiceRecord is one service in a response. A zero IPv4 means the
// service lives on the responding host.
type ServiceRecord struct {
	IPv4     uint32
	Port     uint16
	Protocol byte
	Hostname string
	Service  string
}

// EncodeQuery builds a query datagram.
func EncodeQuery(filters []QueryFilter) ([]byte, error) {
	if len(filters) > 255 {
		return nil, fmt.Errorf("%w: %d filters", ErrMalformed, len(filters))
	}
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(TypeQuery)
	buf.WriteByte(byte(len(filters)))
	for _, f := range filters {
		buf.WriteByte(f.Protocol)
		if err := writeString(&buf, f.Filter); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeQuery parses a query datagram.
func DecodeQuery(data []byte) ([]QueryFilter, error) {
	r, count, err := readHeader(data, TypeQuery)
	if err != nil {
		return nil, err
	}
	filters := make([]QueryFilter, 0, count)
	for i := 0; i < count; i++ {
		var f QueryFilter
		if f.Protocol, err = r.ReadByte(); err != nil {
			return nil, truncated("query filter")
		}
		if f.Filter, err = readString(r); err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// EncodeResponse builds a response datagram.
func EncodeResponse(records []ServiceRecord) ([]byte, error) {
	if len(records) > 255 {
		return nil, fmt.Errorf("%w: %d records", ErrMalformed, len(records))
	}
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(TypeResponse)
	buf.WriteByte(byte(len(records)))
	for _, rec := range records {
		binary.Write(&buf, binary.BigEndian, rec.IPv4) //nolint:errcheck // bytes.Buffer writes cannot fail
		binary.Write(&buf, binary.BigEndian, rec.Port) //nolint:errcheck // bytes.Buffer writes cannot fail
		buf.WriteByte(rec.Protocol)
		if err := writeString(&buf, rec.Hostname); err != nil {
			return nil, err
		}
		if err := writeString(&buf, rec.Service); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeResponse parses a response datagram.
func DecodeResponse(data []byte) ([]ServiceRecord, error) {
	r, count, err := readHeader(data, TypeResponse)
	if err != nil {
		return nil, err
	}
	records := make([]ServiceRecord, 0, count)
	for i := 0; i < count; i++ {
		var rec ServiceRecord
		if err := binary.Read(r, binary.BigEndian, &rec.IPv4); err != nil {
			return nil, truncated("service address")
		}
		if err := binary.Read(r, binary.BigEndian, &rec.Port); err != nil {
			return nil, truncated("service port")
		}
		if rec.Protocol, err = r.ReadByte(); err != nil {
			return nil, truncated("service protocol")
		}
		if rec.Hostname, err = readString(r); err != nil {
			return nil, err
		}
		if rec.Service, err = readString(r); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Endpoint converts a record, substituting sender for a zero address.
func (rec ServiceRecord) Endpoint(sender net.IP) Endpoint {
	addr := sender
	if rec.IPv4 != 0 {
		addr = make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(addr, rec.IPv4)
	}
	ep := Endpoint{Port: rec.Port, Hostname: rec.Hostname, Service: rec.Service}
	if addr != nil {
		ep.Address = addr.String()
	}
	return ep
}

func readHeader(data []byte, want byte) (*bytes.Reader, int, error) {
	if len(data) < len(magic)+2 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, 0, fmt.Errorf("%w: bad header", ErrMalformed)
	}
	if data[len(magic)] != want {
		return nil, 0, fmt.Errorf("%w: type 0x%02x, want 0x%02x", ErrMalformed, data[len(magic)], want)
	}
	return bytes.NewReader(data[len(magic)+2:]), int(data[len(magic)+1]), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: string of %d bytes", ErrMalformed, len(s))
	}
	binary.Write(buf, binary.BigEndian, uint16(len(s))) //nolint:errcheck // bytes.Buffer writes cannot fail
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", truncated("string length")
	}
	if int(n) > r.Len() {
		return "", truncated("string")
	}
	b := make([]byte, n)
	r.Read(b) //nolint:errcheck // Length checked above
	return string(b), nil
}

func truncated(what string) error {
	return fmt.Errorf("%w: truncated %s", ErrMalformed, what)
}
