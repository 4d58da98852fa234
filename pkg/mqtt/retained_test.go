package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetainedStore_PublishAndClear(t *testing.T) {
	s := NewRetainedStore()
	s.Publish("sensor/temp", []byte("22"), QoS0)

	matches := s.Matching("sensor/+")
	require.Len(t, matches, 1)
	require.Equal(t, "sensor/temp", matches[0].Topic)
	require.Equal(t, []byte("22"), matches[0].Payload)

	s.Publish("sensor/temp", []byte(""), QoS0)
	require.Empty(t, s.Matching("sensor/+"))
}
