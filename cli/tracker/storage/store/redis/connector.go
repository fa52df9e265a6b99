package redis

/*
Settings the sink section may (not must) carry:

host = "localhost"
port = "6379"
password = ""
db = "0"
list = "fleet:events"
*/

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

type Connector struct {
	connection *redis.Client
	config     map[string]string
}

func (c *Connector) Init(cfg map[string]string) error {
	if cfg == nil {
		return fmt.Errorf("invalid config reference")
	}
	c.config = cfg

	db := 0
	if raw := c.config["db"]; raw != "" {
		var err error
		if db, err = strconv.Atoi(raw); err != nil {
			return fmt.Errorf("failed to parse db index: %v", err)
		}
	}

	c.connection = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", c.config["host"], c.config["port"]),
		Password: c.config["password"],
		DB:       db,
	})

	if err := c.connection.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("Redis is unreachable: %v", err)
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

	if err = c.connection.RPush(context.Background(), c.config["list"], payload).Err(); err != nil {
		return fmt.Errorf("failed to push message: %v", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return c.connection.Close()
}
