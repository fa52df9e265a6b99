package nats

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

func startServer(t *testing.T) *natsserver.Server {
	t.Helper()

	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server did not come up")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestConnectorPublishes(t *testing.T) {
	srv := startServer(t)

	c := &Connector{}
	require.NoError(t, c.Init(map[string]string{
		"server":  srv.ClientURL(),
		"subject": "fleet.events",
	}))
	defer c.Close()

	nc, err := natsgo.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("fleet.events")
	require.NoError(t, err)

	alert := types.Alert{AlertID: "a-1", DeviceID: "860000000000001", InstituteID: "i-1"}
	require.NoError(t, c.Save(alert))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	want, _ := alert.ToBytes()
	assert.JSONEq(t, string(want), string(msg.Data))
}

func TestConnectorInitFailures(t *testing.T) {
	c := &Connector{}
	assert.Error(t, c.Init(nil))

	// Nothing listens here.
	assert.Error(t, c.Init(map[string]string{"server": "nats://127.0.0.1:1"}))
}
