package node

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

// appID salts the machine-id derived fallback so it is not the raw host id.
const appID = "bmac-node"

// fallbackLength matches the length of a hex-encoded 6-byte MAC.
const fallbackLength = 12

// ErrNoFingerprint is returned when neither the interface MAC nor the machine id is usable.
var ErrNoFingerprint = errors.New("node: no fingerprint source")

// FingerprintFromMAC formats a hardware address as lowercase hex without separators.
func FingerprintFromMAC(mac net.HardwareAddr) string {
	return strings.ReplaceAll(mac.String(), ":", "")
}

// machineID is replaced in tests.
var machineID = func() (string, error) {
	return machineid.ProtectedID(appID)
}

// Fingerprint derives the node identifier from iface's MAC address. Interfaces
// without a hardware address (containers, tunnels) fall back to a stable
// hash of the host machine id.
func Fingerprint(iface string) (string, error) {
	if ifi, err := net.InterfaceByName(iface); err == nil && len(ifi.HardwareAddr) > 0 {
		return FingerprintFromMAC(ifi.HardwareAddr), nil
	}

	id, err := machineID()
	if err != nil {
		return "", fmt.Errorf("%w: interface %q has no MAC and machine id failed: %v", ErrNoFingerprint, iface, err)
	}
	if len(id) > fallbackLength {
		id = id[:fallbackLength]
	}
	return strings.ToLower(id), nil
}
