package bootstrap

import "fmt"

// State is the connectivity state.
type State int

// States, in the order a successful boot passes through them.
const (
	StateDisconnected State = iota
	StateAssociating
	StateAssociated
	StateDiscovering
	StateConnectingBroker
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAssociating:
		return "associating"
	case StateAssociated:
		return "associated"
	case StateDiscovering:
		return "discovering"
	case StateConnectingBroker:
		return "connecting_broker"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
