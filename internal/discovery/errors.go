package discovery

import "errors"

// Domain-specific errors for broker discovery.
var (
	// ErrNoBrokerFound is reported when the collection window closes with no candidates.
	ErrNoBrokerFound = errors.New("discovery: no broker found")

	// ErrQueryFailed is reported when the query could not be sent.
	ErrQueryFailed = errors.New("discovery: query failed")

	// ErrMalformed is returned by the codec for datagrams that do not parse.
	ErrMalformed = errors.New("discovery: malformed datagram")
)
