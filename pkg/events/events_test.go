package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"graph:g1:node:created", "graph:g1:node:created", true},
		{"graph:g1:node:*", "graph:g1:node:created", true},
		{"graph:g1:*:*", "graph:g1:edge:deleted", true},
		{"graph:*:node:created", "graph:g2:node:created", true},
		{"graph:g1:node:created", "graph:g1:node:updated", false},
		{"graph:g1:node:*", "graph:g1:node:created:extra", false},
		{"*", "graph:g1:node:created", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TopicMatches(tc.pattern, tc.topic),
			"pattern=%q topic=%q", tc.pattern, tc.topic)
	}
}

func TestChannelBus_DeliversMatching(t *testing.T) {
	bus := NewChannelBus()

	ch, token := bus.Subscribe("graph:g1:node:*")
	defer bus.Unsubscribe(token)

	other, otherToken := bus.Subscribe("graph:g2:node:*")
	defer bus.Unsubscribe(otherToken)

	bus.Broadcast(Event{Topic: Topic("g1", "node", "created"), Action: "created", Kind: "node", ID: "n1"})

	event := <-ch
	assert.Equal(t, "n1", event.ID)

	select {
	case e := <-other:
		t.Fatalf("unexpected delivery to other subscriber: %+v", e)
	default:
	}
}

func TestChannelBus_Unsubscribe(t *testing.T) {
	bus := NewChannelBus()
	ch, token := bus.Subscribe("graph:g1:node:*")
	bus.Unsubscribe(token)

	// Channel is closed; broadcasting afterwards is safe.
	bus.Broadcast(Event{Topic: Topic("g1", "node", "created")})
	_, open := <-ch
	assert.False(t, open)
}

func TestChannelBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewChannelBus()
	_, token := bus.Subscribe("graph:g1:node:*")
	defer bus.Unsubscribe(token)

	// Flood past the buffer; Broadcast must never block.
	for i := 0; i < 200; i++ {
		bus.Broadcast(Event{Topic: Topic("g1", "node", "created"), ID: "x"})
	}
}

func TestNoopBus(t *testing.T) {
	bus := NewNoopBus()
	ch, token := bus.Subscribe("anything")
	require.NotNil(t, ch)
	bus.Unsubscribe(token)
	bus.Broadcast(Event{Topic: "anything"})

	_, open := <-ch
	assert.False(t, open, "noop subscriptions never deliver")
}
