package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{
		ID:       "event-1",
		Type:     EventSessionDispatched,
		Metadata: map[string]string{"udid": "udid-1"},
	})

	select {
	case event := <-sub:
		assert.Equal(t, EventSessionDispatched, event.Type)
		assert.Equal(t, "udid-1", event.Metadata["udid"])
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	subA := b.Subscribe()
	subB := b.Subscribe()

	b.Publish(&Event{ID: "event-1", Type: EventDeviceRegistered})

	for _, sub := range []Subscriber{subA, subB} {
		select {
		case event := <-sub:
			require.Equal(t, EventDeviceRegistered, event.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed on unsubscribe
	_, open := <-sub
	assert.False(t, open)
}
