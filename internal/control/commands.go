package control

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/bmac-node/internal/store"
)

// Commands accepted on cc/<fingerprint>.
const (
	CommandModules   = "mod"
	CommandLocation  = "loc"
	CommandModActive = "mod_active"
	CommandVersion   = "version"
	CommandUpgrade   = "upgrade"
)

// ParseCommand splits "<command>;<payload>" on the first ';'. Without a
// separator the whole message is the command and the payload is empty.
func ParseCommand(message []byte) (string, []byte) {
	i := bytes.IndexByte(message, ';')
	if i < 0 {
		return string(message), nil
	}
	return string(message[:i]), message[i+1:]
}

// DecodeModuleMask parses a mod payload: exactly 4 bytes, little-endian.
func DecodeModuleMask(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: mod payload is %d bytes, want 4", ErrMalformedCommand, len(payload))
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// EncodeActiveModules renders the mod_active reply body. An empty set is
// the ASCII digit "0"; otherwise the 4 raw little-endian mask bytes.
func EncodeActiveModules(fingerprint string, mask uint32) []byte {
	out := []byte(fingerprint + ";")
	if mask == 0 {
		return append(out, '0')
	}
	return binary.LittleEndian.AppendUint32(out, mask)
}

func (c *Channel) handleCommand(message []byte) {
	cmd, payload := ParseCommand(message)
	c.logger.Debug("command received", "command", cmd, "payload", string(payload))

	switch cmd {
	case CommandModules:
		mask, err := DecodeModuleMask(payload)
		if err != nil {
			c.logger.Error("rejecting mod command", "error", err)
			return
		}
		c.logger.Debug("received new configuration", "mask", mask)
		c.deps.Modules.ApplyBitmask(mask)

	case CommandLocation:
		c.setLocation(string(payload))

	case CommandModActive:
		fp := c.deps.Node.Fingerprint()
		c.reply(c.topics.Response(), EncodeActiveModules(fp, c.deps.Modules.ActiveMask()))

	case CommandVersion:
		fp := c.deps.Node.Fingerprint()
		c.reply(c.topics.Response(), []byte(fp+";"+c.deps.Node.Version()))

	case CommandUpgrade:
		c.deps.Updater.Trigger()
	}
}

func (c *Channel) setLocation(loc string) {
	if loc == "" {
		c.logger.Warn("rejecting loc command", "error", fmt.Errorf("%w: empty location", ErrMalformedCommand))
		return
	}
	if !c.deps.Node.SetLocation(loc) {
		return
	}
	if err := store.WriteLocation(c.deps.Store, loc); err != nil {
		c.logger.Error("persisting location", "location", loc, "error", err)
		return
	}
	c.logger.Info("location updated", "location", loc)
}
