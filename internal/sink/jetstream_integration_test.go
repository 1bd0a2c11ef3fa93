package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/regrets-agent/internal/telemetry"
)

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	srv, err := server.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)
	return srv
}

func TestConnectJetStreamPublishesToStream(t *testing.T) {
	srv := runJetStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := ConnectJetStream(ctx, srv.ClientURL(), "REGRETS", "regrets.telemetry", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Submit(ctx, logRecord()))
	require.NoError(t, s.Submit(ctx, logRecord()))

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "REGRETS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	msg, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	var decoded telemetry.Record
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, logRecord(), decoded)
}

func TestConnectJetStreamReusesStream(t *testing.T) {
	srv := runJetStreamServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := ConnectJetStream(ctx, srv.ClientURL(), "REGRETS", "regrets.telemetry", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Submit(ctx, logRecord()))
	require.NoError(t, first.Close())

	second, err := ConnectJetStream(ctx, srv.ClientURL(), "REGRETS", "regrets.telemetry", zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Submit(ctx, logRecord()))
}

func TestConnectJetStreamUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ConnectJetStream(ctx, "nats://127.0.0.1:1", "REGRETS", "regrets.telemetry", zerolog.Nop(),
		nats.Timeout(500*time.Millisecond))
	assert.Error(t, err)
}
