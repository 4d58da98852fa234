package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACL_PublishPermission(t *testing.T) {
	a := NewACL([]Rule{
		{ClientIDPattern: "sensor_*", TopicPattern: "sensor/+/data", Action: ActionPublish, Permission: PermissionAllow, Priority: 10},
	})

	require.True(t, a.CheckPublish("sensor_001", "", "sensor/room1/data"))
	require.False(t, a.CheckPublish("sensor_001", "", "sensor/room1/status"))
}

func TestACL_SubscribePermission(t *testing.T) {
	a := NewACL([]Rule{
		{UsernamePattern: "admin", TopicPattern: "#", Action: ActionBoth, Permission: PermissionAllow, Priority: 100},
	})

	require.True(t, a.CheckSubscribe("any_client", "admin", "any/topic"))
	require.True(t, a.CheckPublish("any_client", "admin", "any/topic"))
}

func TestACL_PriorityOrdering(t *testing.T) {
	a := NewACL([]Rule{
		{ClientIDPattern: "*", TopicPattern: "#", Action: ActionBoth, Permission: PermissionDeny, Priority: 0},
		{ClientIDPattern: "admin_*", TopicPattern: "#", Action: ActionBoth, Permission: PermissionAllow, Priority: 10},
	})

	require.True(t, a.CheckPublish("admin_001", "", "any/topic"))
	require.False(t, a.CheckPublish("user_001", "", "any/topic"))
}

func TestACL_DefaultDeny(t *testing.T) {
	a := NewACL(nil)
	require.False(t, a.CheckPublish("any_client", "", "any/topic"))
	require.False(t, a.CheckSubscribe("any_client", "", "any/topic"))
}
