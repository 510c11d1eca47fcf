package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSSink_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("blueprint.runs.run-1.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink, err := Connect(server.ClientURL(), "")
	require.NoError(t, err)
	defer sink.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Publish(context.Background(), Event{
		RunID:         "run-1",
		Status:        "PENDING_APPROVAL",
		Stage:         "review",
		Trigger:       "approval_required",
		ApprovalToken: "tok",
		Timestamp:     at,
	}))

	select {
	case msg := <-msgs:
		assert.Equal(t, "blueprint.runs.run-1.PENDING_APPROVAL", msg.Subject)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "tok", got.ApprovalToken)
		assert.Equal(t, "approval_required", got.Trigger)
		assert.True(t, got.Timestamp.Equal(at))
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNATSSink_SharedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sink := NewNATSSink(nc, "custom.prefix.")
	assert.Equal(t, "custom.prefix.a_b.FAILED", sink.Subject("a.b", "FAILED"))
	assert.Equal(t, "custom.prefix._.x_y", sink.Subject("", "x*y"))

	require.NoError(t, sink.Close())
	assert.True(t, nc.IsConnected(), "borrowed connection stays open")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var s Sink = &r
	require.NoError(t, s.Publish(context.Background(), Event{Status: "RUNNING"}))
	require.NoError(t, s.Publish(context.Background(), Event{Status: "SUCCESS"}))

	assert.Equal(t, []string{"RUNNING", "SUCCESS"}, r.Statuses())
	assert.Len(t, r.Events(), 2)
	assert.NoError(t, NopSink{}.Publish(context.Background(), Event{}))
}
