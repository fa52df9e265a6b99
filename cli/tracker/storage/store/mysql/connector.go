package mysql

/*
Settings the sink section may (not must) carry:

host = "localhost"
port = "3306"
user = "root"
password = "root"
database = "fleetwatch"
table = "event_log"
payload_field_name = "payload"
*/

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
)

type Connector struct {
	connection *sql.DB
	config     map[string]string
}

func (c *Connector) Init(cfg map[string]string) error {
	var (
		err error
	)
	if cfg == nil {
		return fmt.Errorf("invalid config reference")
	}
	c.config = cfg
	connStr := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		c.config["user"], c.config["password"], c.config["host"], c.config["port"], c.config["database"])
	if c.connection, err = sql.Open("mysql", connStr); err != nil {
		return fmt.Errorf("failed to connect to MySQL: %v", err)
	}

	if err = c.connection.Ping(); err != nil {
		return fmt.Errorf("MySQL is unreachable: %v", err)
	}
	return err
}

func (c *Connector) Save(msg interface{ ToBytes() ([]byte, error) }) error {
	if msg == nil {
		return fmt.Errorf("invalid event reference")
	}

	payload, err := msg.ToBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %v", err)
	}

	payloadFieldName := c.config["payload_field_name"]
	if payloadFieldName == "" {
		log.Warnf("Key 'payload_field_name' not found in the sink config. Falling back to 'payload'.")
		payloadFieldName = "payload"
	}

	insertQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", c.config["table"], payloadFieldName)
	if _, err = c.connection.Exec(insertQuery, payload); err != nil {
		return fmt.Errorf("failed to insert record: %v", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return c.connection.Close()
}
