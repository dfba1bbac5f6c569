package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"
)

const (
	// maxDatagram bounds a single response read.
	maxDatagram = 1500

	// maxResponses caps the records kept per query.
	maxResponses = 32
)

// UDPTransport broadcasts queries over IPv4 UDP.
type UDPTransport struct {
	broadcast string
	logger    Logger
}

// NewUDPTransport creates a transport sending to broadcast (e.g. 255.255.255.255).
func NewUDPTransport(broadcast string) *UDPTransport {
	return &UDPTransport{broadcast: broadcast, logger: noopLogger{}}
}

// SetLogger sets the logger for discarded datagrams.
func (t *UDPTransport) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// SendQuery implements Transport. Responses are read on a goroutine until
// the query is closed.
func (t *UDPTransport) SendQuery(port int, filter string) (Query, error) {
	payload, err := EncodeQuery([]QueryFilter{{Protocol: ProtocolAll, Filter: filter}})
	if err != nil {
		return nil, err
	}
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.broadcast, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", t.broadcast, err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)

	// Broadcast discovery never needs to leave the link.
	if err := pc.SetTTL(1); err != nil {
		t.logger.Debug("setting discovery TTL failed", "error", err)
	}
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		t.logger.Debug("enabling control messages failed", "error", err)
	}

	if _, err := pc.WriteTo(payload, nil, dst); err != nil {
		conn.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("sending query to %s: %w", dst, err)
	}

	q := &udpQuery{
		conn:   pc,
		done:   make(chan struct{}),
		logger: t.logger,
	}
	go q.readLoop()
	return q, nil
}

type udpQuery struct {
	conn   *ipv4.PacketConn
	done   chan struct{}
	logger Logger

	mu        sync.Mutex
	responses []Endpoint
	closeOnce sync.Once
	closeErr  error
}

func (q *udpQuery) readLoop() {
	defer close(q.done)

	buf := make([]byte, maxDatagram)
	for {
		n, cm, src, err := q.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				q.logger.Debug("discovery read stopped", "error", err)
			}
			return
		}

		records, err := DecodeResponse(buf[:n])
		if err != nil {
			q.logger.Debug("discarding datagram", "from", src, "error", err)
			continue
		}

		var sender net.IP
		if udp, ok := src.(*net.UDPAddr); ok {
			sender = udp.IP
		}
		if cm != nil {
			q.logger.Debug("discovery response", "from", src, "ifindex", cm.IfIndex, "records", len(records))
		}

		q.mu.Lock()
		for _, rec := range records {
			if len(q.responses) >= maxResponses {
				break
			}
			q.responses = append(q.responses, rec.Endpoint(sender))
		}
		q.mu.Unlock()
	}
}

func (q *udpQuery) Responses() []Endpoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Endpoint, len(q.responses))
	copy(out, q.responses)
	return out
}

func (q *udpQuery) Close() error {
	q.closeOnce.Do(func() {
		q.closeErr = q.conn.Close()
		<-q.done
	})
	return q.closeErr
}
