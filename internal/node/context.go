// Package node holds the node's identity: fingerprint, location, firmware
// version and the OTA base URL.
//
// A single Context is created in main and shared by the bootstrap, the
// control channel and the OTA state machine. Mutations happen on the event
// loop; reads may also come from log sinks on other goroutines, so access
// is guarded.
package node

import (
	"sync"
)

// Context is the node's identity and runtime settings.
type Context struct {
	mu          sync.RWMutex
	fingerprint string
	location    string
	version     string
	otaBaseURL  string
}

// Identity is a point-in-time copy of a Context.
type Identity struct {
	Fingerprint string
	Location    string
	Version     string
	OTABaseURL  string
}

// New creates a Context. The fingerprint is unknown until association.
func New(version, otaBaseURL string) *Context {
	return &Context{version: version, otaBaseURL: otaBaseURL}
}

// Fingerprint returns the MAC-derived node identifier, or "" before association.
func (c *Context) Fingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fingerprint
}

// SetFingerprint records the node identifier.
func (c *Context) SetFingerprint(fp string) {
	c.mu.Lock()
	c.fingerprint = fp
	c.mu.Unlock()
}

// Location returns the human-readable location label.
func (c *Context) Location() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.location
}

// SetLocation updates the location and reports whether it changed.
func (c *Context) SetLocation(loc string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.location == loc {
		return false
	}
	c.location = loc
	return true
}

// Version returns the firmware version string.
func (c *Context) Version() string {
	return c.version
}

// OTABaseURL returns the URL the fingerprint is appended to for OTA downloads.
func (c *Context) OTABaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.otaBaseURL
}

// SetOTABaseURL replaces the OTA base URL (from the retained cc/ota_url topic).
func (c *Context) SetOTABaseURL(url string) {
	c.mu.Lock()
	c.otaBaseURL = url
	c.mu.Unlock()
}

// Snapshot returns a copy of the current identity.
func (c *Context) Snapshot() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Identity{
		Fingerprint: c.fingerprint,
		Location:    c.location,
		Version:     c.version,
		OTABaseURL:  c.otaBaseURL,
	}
}
