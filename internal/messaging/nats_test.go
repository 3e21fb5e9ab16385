package messaging

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/lobby/internal/chat"
)

// setupTestClient connects to the server named by NATS_TEST_URL (default
// nats://localhost:4222). Skips if NATS is not available.
func setupTestClient(t *testing.T) *NATSClient {
	t.Helper()

	cfg := DefaultNATSConfig()
	if url := os.Getenv("NATS_TEST_URL"); url != "" {
		cfg.URL = url
	}
	cfg.MaxReconnects = 0

	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEventSink_RoundTrip(t *testing.T) {
	c := setupTestClient(t)

	got := make(chan chat.ChatEvent, 1)
	require.NoError(t, c.SubscribeEvents(func(ev chat.ChatEvent) { got <- ev }))
	require.NoError(t, c.conn.Flush())

	sink := NewEventSink(c)
	require.NoError(t, sink.Append(chat.NewMessage("alice", "hi: there", 1700000000)))

	select {
	case ev := <-got:
		assert.Equal(t, "alice", ev.Author)
		assert.Equal(t, "hi: there", ev.Body)
		assert.Equal(t, int64(1700000000), ev.Ts)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestAudit_QueueDelivery(t *testing.T) {
	c := setupTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeAudit("auditor-test", func(data []byte) { got <- data }))
	require.NoError(t, c.conn.Flush())

	require.NoError(t, c.PublishAudit([]byte(`{"kind":"join"}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"kind":"join"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry not delivered")
	}
}
