package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicMatches_Exact(t *testing.T) {
	require.True(t, TopicMatches("sensor/temperature", "sensor/temperature"))
	require.False(t, TopicMatches("sensor/temperature", "sensor/humidity"))
}

func TestTopicMatches_SingleLevelWildcard(t *testing.T) {
	require.True(t, TopicMatches("sensor/+/temperature", "sensor/room1/temperature"))
	require.False(t, TopicMatches("sensor/+/temperature", "sensor/room1/room2/temperature"))
	require.True(t, TopicMatches("+/+/temperature", "sensor/room1/temperature"))
}

func TestTopicMatches_MultiLevelWildcard(t *testing.T) {
	require.True(t, TopicMatches("sensor/#", "sensor/temperature"))
	require.True(t, TopicMatches("sensor/#", "sensor/room1/room2/temperature"))
	require.False(t, TopicMatches("sensor/#", "device/temperature"))
	require.True(t, TopicMatches("#", "anything/goes/here"))
}

func TestTopicMatches_Combined(t *testing.T) {
	require.True(t, TopicMatches("sensor/+/#", "sensor/room1/temperature/value"))
	require.False(t, TopicMatches("sensor/+/#", "sensor"))
}

func TestValidateFilter_RejectsMidFilterHash(t *testing.T) {
	require.True(t, ValidateFilter("sensor/#"))
	require.True(t, ValidateFilter("#"))
	require.False(t, ValidateFilter("sensor/#/temperature"))
}

func TestTopicMatcher_SubscribeFindUnsubscribe(t *testing.T) {
	m := NewTopicMatcher()
	m.Subscribe("client1", "sensor/+/temperature")
	m.Subscribe("client2", "sensor/#")
	m.Subscribe("client3", "sensor/room1/temperature")

	clients := m.FindMatchingClients("sensor/room1/temperature")
	require.Len(t, clients, 3)

	m.Unsubscribe("client1", "sensor/+/temperature")
	require.Len(t, m.FindMatchingClients("sensor/room1/temperature"), 2)

	m.RemoveClient("client2")
	require.Len(t, m.FindMatchingClients("sensor/room1/temperature"), 1)
}
