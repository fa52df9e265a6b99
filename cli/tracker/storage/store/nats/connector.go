package nats

/*
Settings the sink section must carry:

server = "nats://localhost:4222"
subject = "fleet.events"
*/

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

type Connector struct {
	connection *nats.Conn
	config     map[string]string
}

func (c *Connector) Init(cfg map[string]string) error {
	var err error

	if cfg == nil {
		return fmt.Errorf("invalid config reference")
	}
	c.config = cfg

	if c.connection, err = nats.Connect(c.config["server"]); err != nil {
		return fmt.Errorf("failed to connect to NATS: %v", err)
	}
	return nil
}

func (c *Connector) Save(msg interface{ ToBytes() ([]byte, error) }) error {
	if msg == nil {
		return fmt.Errorf("invalid event reference")
	}

	payload, err := msg.ToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %v", err)
	}

	if err = c.connection.Publish(c.config["subject"], payload); err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}
	return nil
}

func (c *Connector) Close() error {
	c.connection.Close()
	return nil
}
