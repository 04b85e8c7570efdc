package sync

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imarenge/promptcast/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversToOthersOnly(t *testing.T) {
	broker := NewBroker()
	a := broker.Channel("speed")
	b := broker.Channel("speed")
	c := broker.Channel("speed")

	gotA := make(chan domain.Message, 4)
	gotB := make(chan domain.Message, 4)
	gotC := make(chan domain.Message, 4)
	a.Subscribe(func(m domain.Message) { gotA <- m })
	b.Subscribe(func(m domain.Message) { gotB <- m })
	c.Subscribe(func(m domain.Message) { gotC <- m })

	require.NoError(t, a.Send(domain.NewPing(domain.Device{ID: "device-a"})))

	for _, got := range []chan domain.Message{gotB, gotC} {
		select {
		case msg := <-got:
			assert.Equal(t, domain.TypePing, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("peer did not receive broadcast")
		}
	}

	select {
	case <-gotA:
		t.Fatal("sender received its own broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusIsolatesNames(t *testing.T) {
	broker := NewBroker()
	speed := broker.Channel("speed")
	position := broker.Channel("position")

	got := make(chan domain.Message, 1)
	position.Subscribe(func(m domain.Message) { got <- m })

	require.NoError(t, speed.Send(domain.NewPing(domain.Device{ID: "device-a"})))

	select {
	case <-got:
		t.Fatal("message crossed channel names")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusClose(t *testing.T) {
	broker := NewBroker()
	a := broker.Channel("speed")
	b := broker.Channel("speed")

	var lastStatus StatusEvent
	a.SubscribeStatus(func(ev StatusEvent) { lastStatus = ev })
	assert.True(t, lastStatus.Connected)

	require.NoError(t, a.Close())
	assert.False(t, lastStatus.Connected)

	assert.ErrorIs(t, a.Send(domain.NewPing(domain.Device{ID: "x"})), ErrClosed)

	// Survivors keep working after a sibling leaves.
	got := make(chan domain.Message, 1)
	c := broker.Channel("speed")
	c.Subscribe(func(m domain.Message) { got <- m })
	require.NoError(t, b.Send(domain.NewPing(domain.Device{ID: "device-b"})))
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("broadcast lost after close")
	}

	// Closing twice is fine.
	require.NoError(t, a.Close())
}

func TestBusUnsubscribe(t *testing.T) {
	broker := NewBroker()
	a := broker.Channel("speed")
	b := broker.Channel("speed")

	got := make(chan domain.Message, 4)
	unsub := b.Subscribe(func(m domain.Message) { got <- m })
	unsub()

	require.NoError(t, a.Send(domain.NewPing(domain.Device{ID: "device-a"})))

	select {
	case <-got:
		t.Fatal("unsubscribed handler was invoked")
	case <-time.After(100 * time.Millisecond):
	}
}
