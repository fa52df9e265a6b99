// Package storage archives alerts and monitoring logs to external
// sinks: message brokers for downstream consumers and databases for
// the audit trail.
package storage

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/mysql"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/nats"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/postgresql"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/rabbitmq"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/redis"
	"github.com/fleetwatch/fleetwatch/cli/tracker/storage/store/tarantool_queue"
)

var now = time.Now // For mocking time.Now() in tests

var ErrNoSinks = errors.New("no sinks configured")
var ErrUnknownSink = errors.New("sink isn't supported yet")

// Sink is a fully managed archive target.
type Sink interface {
	Connector
	Saver
}

// Saver accepts serialized events.
type Saver interface {
	// Save archives one event.
	Save(interface{ ToBytes() ([]byte, error) }) error
}

// Connector manages the sink connection lifecycle.
type Connector interface {
	// Init opens the connection using the sink's config section.
	Init(map[string]string) error

	// Close shuts the connection down.
	Close() error
}

// Repository fans each event out to every configured sink.
//
// Archiving can be limited to an operating season, e.g. a school-bus
// fleet that only runs September through June. Outside the window
// events still reach the live dashboard, they just are not archived.
type Repository struct {
	sinks             []Saver
	ArchiveMonthStart int
	ArchiveMonthEnd   int
}

// NewRepository creates an empty repository with the given archive
// season. Passing 1 and 12 archives year-round.
func NewRepository(archiveMonthStart, archiveMonthEnd int) *Repository {
	return &Repository{
		ArchiveMonthStart: archiveMonthStart,
		ArchiveMonthEnd:   archiveMonthEnd,
	}
}

// AddSink registers an archive target.
func (r *Repository) AddSink(s Saver) {
	r.sinks = append(r.sinks, s)
}

// Save archives the event to all sinks. The first failing sink aborts
// the fan-out and returns its error.
func (r *Repository) Save(m interface{ ToBytes() ([]byte, error) }) error {
	currentMonth := now().Month()
	startMonth := time.Month(r.ArchiveMonthStart)
	endMonth := time.Month(r.ArchiveMonthEnd)

	saveAllowed := false
	if startMonth <= endMonth {
		if currentMonth >= startMonth && currentMonth <= endMonth {
			saveAllowed = true
		}
	} else { // Wraps around year-end (e.g. September to June)
		if currentMonth >= startMonth || currentMonth <= endMonth {
			saveAllowed = true
		}
	}

	if !saveAllowed {
		log.Infof("Event not archived. Current month %s is outside the configured season [%s - %s]", currentMonth.String(), startMonth.String(), endMonth.String())
		return nil
	}

	for _, sink := range r.sinks {
		if err := sink.Save(m); err != nil {
			return err
		}
	}
	return nil
}

// LoadSinks builds sinks from the config section, keyed by sink type.
func (r *Repository) LoadSinks(sinks map[string]map[string]string) error {
	if len(sinks) == 0 {
		return ErrNoSinks
	}

	var db Sink
	for sink, params := range sinks {
		switch sink {
		case "rabbitmq":
			db = &rabbitmq.Connector{}
		case "postgresql":
			db = &postgresql.Connector{}
		case "nats":
			db = &nats.Connector{}
		case "tarantool_queue":
			db = &tarantool_queue.Connector{}
		case "redis":
			db = &redis.Connector{}
		case "mysql":
			db = &mysql.Connector{}
		default:
			return ErrUnknownSink
		}

		if err := db.Init(params); err != nil {
			return err
		}

		r.AddSink(db)
	}
	return nil
}
