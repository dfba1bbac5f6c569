package mqtt

// Topics provides builders for BMaC MQTT topics under a configurable prefix.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Prefix: "bmac/"}
//	cmd := topics.Command("5ccf7f0a1b2c")
//	// Returns: "bmac/cc/5ccf7f0a1b2c"
//
// The prefix is prepended verbatim, so it normally ends in "/" or is empty.
type Topics struct {
	Prefix string
}

// =============================================================================
// Inbound (node subscribes)
// =============================================================================

// Upgrade returns the OTA trigger topic (payload = fingerprint).
func (t Topics) Upgrade() string {
	return t.Prefix + "upgrade"
}

// PresenceTell returns the topic asking nodes to report on presence/response.
func (t Topics) PresenceTell() string {
	return t.Prefix + "presence/tell"
}

// PresencePing returns the topic asking nodes to answer on presence/pong.
func (t Topics) PresencePing() string {
	return t.Prefix + "presence/ping"
}

// PresenceRestart returns the addressed restart topic (payload = fingerprint).
func (t Topics) PresenceRestart() string {
	return t.Prefix + "presence/restart"
}

// PresenceRestartAll returns the fleet-wide restart topic.
func (t Topics) PresenceRestartAll() string {
	return t.Prefix + "presence/restart/all"
}

// PresenceRestartFilter returns the subscription filter covering both restart topics.
func (t Topics) PresenceRestartFilter() string {
	return t.Prefix + "presence/restart/#"
}

// Command returns the per-node command topic.
func (t Topics) Command(fingerprint string) string {
	return t.Prefix + "cc/" + fingerprint
}

// OTAURL returns the retained OTA base URL announcement topic.
func (t Topics) OTAURL() string {
	return t.Prefix + "cc/ota_url"
}

// =============================================================================
// Outbound (node publishes)
// =============================================================================

// PresenceResponse returns the reply topic for presence/tell.
func (t Topics) PresenceResponse() string {
	return t.Prefix + "presence/response"
}

// PresencePong returns the reply topic for presence/ping.
func (t Topics) PresencePong() string {
	return t.Prefix + "presence/pong"
}

// Config returns the topic the node announces itself on after connecting.
func (t Topics) Config() string {
	return t.Prefix + "cc/config"
}

// Response returns the topic for mod_active and version replies.
func (t Topics) Response() string {
	return t.Prefix + "cc/response"
}

// LogAll returns the fleet-wide log mirror topic.
func (t Topics) LogAll() string {
	return t.Prefix + "log/all"
}

// LastWill returns the topic the broker publishes the node's will on.
func (t Topics) LastWill() string {
	return t.Prefix + "last/will"
}
