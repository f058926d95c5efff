package runtime

import (
	"testing"

	"campus-chat/contract"

	"github.com/stretchr/testify/require"
)

func Test_Registry_Subscribe_And_Resolve(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	subA := &contract.Subscriber{ID: "a"}
	subB := &contract.Subscriber{ID: "b"}
	registry.Subscribe(subA, "conv-1", "announcements")
	registry.Subscribe(subB, "conv-2", "announcements")

	req.Len(registry.SubscribersForStream("conv-1"), 1)
	req.Len(registry.SubscribersForStream("conv-2"), 1)
	req.Len(registry.SubscribersForStream("announcements"), 2)
	req.Nil(registry.SubscribersForStream("conv-3"))
}

func Test_Registry_Unsubscribe_Cleans_Every_Stream(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	sub := &contract.Subscriber{ID: "a"}
	registry.Subscribe(sub, "conv-1", "conv-2", "announcements")
	registry.Unsubscribe("a")

	req.Nil(registry.SubscribersForStream("conv-1"))
	req.Nil(registry.SubscribersForStream("conv-2"))
	req.Nil(registry.SubscribersForStream("announcements"))

	// Unsubscribing twice is harmless.
	registry.Unsubscribe("a")
}

func Test_Registry_Late_Interest_Extends_The_Set(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	sub := &contract.Subscriber{ID: "a"}
	registry.Subscribe(sub, "conv-1")
	registry.Subscribe(sub, "conv-2")

	req.Len(registry.SubscribersForStream("conv-1"), 1)
	req.Len(registry.SubscribersForStream("conv-2"), 1)

	registry.Unsubscribe("a")
	req.Nil(registry.SubscribersForStream("conv-1"))
	req.Nil(registry.SubscribersForStream("conv-2"))
}
