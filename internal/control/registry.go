package control

import "strings"

// Handler receives a message body for a dynamically registered topic.
type Handler func(topic string, payload []byte)

type registryEntry struct {
	topic   string
	handler Handler
}

// Registry maps topics (or MQTT filters) to handlers, in registration order.
// A topic appears at most once; registering it again replaces the handler
// in place.
type Registry struct {
	entries []registryEntry
}

// Set adds or replaces the handler for topic. It reports whether the topic is new.
func (r *Registry) Set(topic string, h Handler) bool {
	for i := range r.entries {
		if r.entries[i].topic == topic {
			r.entries[i].handler = h
			return false
		}
	}
	r.entries = append(r.entries, registryEntry{topic: topic, handler: h})
	return true
}

// Remove deletes topic. It reports whether it was present.
func (r *Registry) Remove(topic string) bool {
	for i := range r.entries {
		if r.entries[i].topic == topic {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Topics returns the registered topics in order.
func (r *Registry) Topics() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.topic
	}
	return out
}

// Len returns the number of registered topics.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Lookup returns the handler for a received topic: an exact registration
// first, then the first matching wildcard filter.
func (r *Registry) Lookup(topic string) (Handler, bool) {
	for _, e := range r.entries {
		if e.topic == topic {
			return e.handler, true
		}
	}
	for _, e := range r.entries {
		if strings.ContainsAny(e.topic, "+#") && MatchTopic(e.topic, topic) {
			return e.handler, true
		}
	}
	return nil, false
}

// MatchTopic reports whether an MQTT topic filter matches topic.
func MatchTopic(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
