// Package mqtt implements a minimal MQTT 3.1.1/5.0 broker core: topic
// matching, ACL enforcement, retained messages, session/QoS state, and
// the connection accept loop.
package mqtt

import (
	"sort"
	"strings"
	"sync"
)

// TopicMatches reports whether topic matches filter under MQTT's
// wildcard rules: '#' matches the remainder of the topic and must be the
// filter's final segment; '+' matches exactly one segment; other
// segments must compare equal. Grounded on
// flux-mqtt/src/topic_matcher.rs's matches/matches_parts.
func TopicMatches(filter, topic string) bool {
	if !strings.ContainsAny(filter, "+#") {
		return filter == topic
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	return matchParts(filterParts, topicParts)
}

func matchParts(filter, topic []string) bool {
	switch {
	case len(filter) == 0 && len(topic) == 0:
		return true
	case len(filter) == 0:
		return false
	case filter[0] == "#":
		return true
	case len(topic) == 0:
		return false
	case filter[0] == "+":
		return matchParts(filter[1:], topic[1:])
	case filter[0] == topic[0]:
		return matchParts(filter[1:], topic[1:])
	default:
		return false
	}
}

// ValidateFilter rejects filters where '#' appears anywhere but the final
// segment: such filters are rejected at subscribe time.
func ValidateFilter(filter string) bool {
	parts := strings.Split(filter, "/")
	for i, p := range parts {
		if p == "#" && i != len(parts)-1 {
			return false
		}
		if strings.Contains(p, "#") && p != "#" {
			return false
		}
	}
	return true
}

// TopicMatcher maintains the topic_filter -> subscribing client_ids
// mapping and resolves publishes to matching subscribers.
type TopicMatcher struct {
	mu            sync.RWMutex
	subscriptions map[string]map[string]struct{} // filter -> set of client IDs
}

// NewTopicMatcher creates an empty topic matcher.
func NewTopicMatcher() *TopicMatcher {
	return &TopicMatcher{subscriptions: make(map[string]map[string]struct{})}
}

// Subscribe records clientID as a subscriber of topicFilter.
func (m *TopicMatcher) Subscribe(clientID, topicFilter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subscriptions[topicFilter]
	if !ok {
		set = make(map[string]struct{})
		m.subscriptions[topicFilter] = set
	}
	set[clientID] = struct{}{}
}

// Unsubscribe removes clientID's subscription to topicFilter, dropping
// the filter entirely once it has no subscribers.
func (m *TopicMatcher) Unsubscribe(clientID, topicFilter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subscriptions[topicFilter]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(m.subscriptions, topicFilter)
	}
}

// RemoveClient drops every subscription held by clientID (on disconnect).
func (m *TopicMatcher) RemoveClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for filter, set := range m.subscriptions {
		delete(set, clientID)
		if len(set) == 0 {
			delete(m.subscriptions, filter)
		}
	}
}

// FindMatchingClients returns the deduplicated, sorted set of clients
// subscribed to any filter matching topic.
func (m *TopicMatcher) FindMatchingClients(topic string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for filter, set := range m.subscriptions {
		if !TopicMatches(filter, topic) {
			continue
		}
		for clientID := range set {
			seen[clientID] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for clientID := range seen {
		out = append(out, clientID)
	}
	sort.Strings(out)
	return out
}

// SubscriptionCount returns the number of distinct topic filters with at
// least one subscriber.
func (m *TopicMatcher) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// ClientSubscriptions returns every filter clientID is subscribed to.
func (m *TopicMatcher) ClientSubscriptions(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for filter, set := range m.subscriptions {
		if _, ok := set[clientID]; ok {
			out = append(out, filter)
		}
	}
	sort.Strings(out)
	return out
}
