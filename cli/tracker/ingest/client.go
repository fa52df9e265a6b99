// Package ingest connects the tracker to the backend's push socket:
// it owns the connection state machine, room subscriptions, message
// demultiplexing and the REST polling fallback used when the socket
// cannot be established.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// ConnState is the socket connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handlers receive demultiplexed events. Nil handlers are skipped. All
// handlers run on the read-loop goroutine and must not block.
type Handlers struct {
	OnStatus        func(types.StatusEvent)
	OnLocation      func(types.LocationEvent)
	OnVehicle       func(types.VehicleRecord)
	OnAlert         func(types.Alert)
	OnMonitoringLog func(types.MonitoringLog)

	// OnStateChange fires on every state transition with the new state.
	OnStateChange func(ConnState)
}

// ClientOptions tune the reconnect machinery.
type ClientOptions struct {
	// RetryDelay between reconnect attempts.
	RetryDelay time.Duration

	// MaxRetries before the client gives up and goes terminally
	// Disconnected.
	MaxRetries int

	// DialTimeout for a single connection attempt.
	DialTimeout time.Duration

	// AckTimeout for a single alert-channel join attempt.
	AckTimeout time.Duration
}

// DefaultClientOptions returns the production reconnect policy: fixed
// delay, capped attempts.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		RetryDelay:  5 * time.Second,
		MaxRetries:  10,
		DialTimeout: 10 * time.Second,
		AckTimeout:  2 * time.Second,
	}
}

// Client is a reconnecting websocket client with declarative room
// membership: the desired rooms survive reconnects and are reapplied
// on every transition to Connected, because silently missing room
// membership drops events.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	opts     ClientOptions
	handlers Handlers

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	state   ConnState

	desiredDevices map[types.DeviceID]struct{}
	desiredAlerts  map[string]struct{}
	pendingAcks    map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient builds a client for the given websocket URL. Connect starts
// it.
func NewClient(url string, handlers Handlers, opts ClientOptions) *Client {
	if opts.RetryDelay <= 0 {
		opts = DefaultClientOptions()
	}
	return &Client{
		url:            url,
		dialer:         &websocket.Dialer{HandshakeTimeout: opts.DialTimeout},
		opts:           opts,
		handlers:       handlers,
		desiredDevices: make(map[types.DeviceID]struct{}),
		desiredAlerts:  make(map[string]struct{}),
		pendingAcks:    make(map[string]chan struct{}),
	}
}

// Connect starts the connection loop in the background and returns
// immediately; the loop keeps dialing until the retry budget is
// exhausted or Close is called. Calling Connect twice is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.connectionLoop()
}

// Close tears the client down: the read and reconnect loops exit and
// the connection is closed. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected is the boolean the UI indicator consumes.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// JoinDevice adds a device room to the desired set and joins it when
// connected. Joining twice is idempotent.
func (c *Client) JoinDevice(id types.DeviceID) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.desiredDevices[id] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.send(envelope{Type: msgJoinDevice, DeviceID: id})
	}
}

// LeaveDevice removes a device room from the desired set.
func (c *Client) LeaveDevice(id types.DeviceID) {
	c.mu.Lock()
	delete(c.desiredDevices, id)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.send(envelope{Type: msgLeaveDevice, DeviceID: id})
	}
}

// JoinAlerts adds an alert channel to the desired set. The join is
// acknowledged by the server; it is retried until confirmed because a
// reconnect can eat an unacked join.
func (c *Client) JoinAlerts(channel string) {
	if channel == "" {
		return
	}
	c.mu.Lock()
	c.desiredAlerts[channel] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.joinAlertsWithAck(channel)
	}
}

// LeaveAlerts removes an alert channel from the desired set.
func (c *Client) LeaveAlerts(channel string) {
	c.mu.Lock()
	delete(c.desiredAlerts, channel)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		c.send(envelope{Type: msgLeaveAlerts, Channel: channel})
	}
}

func (c *Client) connectionLoop() {
	defer c.wg.Done()

	attempts := 0
	for {
		if c.ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		if attempts == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
		if err != nil {
			attempts++
			if attempts > c.opts.MaxRetries {
				log.WithField("attempts", attempts-1).Error("socket retry budget exhausted, staying disconnected")
				c.setState(StateDisconnected)
				return
			}
			log.WithFields(log.Fields{"err": err, "attempt": attempts}).Warn("socket dial failed")
			select {
			case <-c.ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-time.After(c.opts.RetryDelay):
			}
			continue
		}

		attempts = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		log.Info("socket connected")

		c.resubscribe()
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if c.ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		log.Warn("socket lost, reconnecting")
		attempts = 1
		select {
		case <-c.ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

// resubscribe reapplies the whole desired room set. Called on every
// transition to Connected; this is a correctness requirement, not an
// optimization, since missed membership silently drops events.
func (c *Client) resubscribe() {
	c.mu.Lock()
	devices := make([]types.DeviceID, 0, len(c.desiredDevices))
	for id := range c.desiredDevices {
		devices = append(devices, id)
	}
	channels := make([]string, 0, len(c.desiredAlerts))
	for ch := range c.desiredAlerts {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, id := range devices {
		c.send(envelope{Type: msgJoinDevice, DeviceID: id})
	}
	for _, ch := range channels {
		c.joinAlertsWithAck(ch)
	}
}

// joinAlertsWithAck sends the join and retries until the server acks
// the correlation id, the channel is no longer desired, or the client
// shuts down.
func (c *Client) joinAlertsWithAck(channel string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			c.mu.Lock()
			_, wanted := c.desiredAlerts[channel]
			connected := c.state == StateConnected
			if !wanted || !connected {
				c.mu.Unlock()
				return
			}
			corr := uuid.NewString()
			ack := make(chan struct{}, 1)
			c.pendingAcks[corr] = ack
			c.mu.Unlock()

			c.send(envelope{Type: msgJoinAlerts, Channel: channel, CorrelationID: corr})

			select {
			case <-ack:
				log.WithField("channel", channel).Debug("alert channel join acked")
				return
			case <-time.After(c.opts.AckTimeout):
				c.mu.Lock()
				delete(c.pendingAcks, corr)
				c.mu.Unlock()
				log.WithField("channel", channel).Warn("alert channel join not acked, retrying")
			case <-c.ctx.Done():
				c.mu.Lock()
				delete(c.pendingAcks, corr)
				c.mu.Unlock()
				return
			}
		}
	}()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.WithField("err", err).Debug("socket read ended")
			}
			return
		}
		c.dispatch(payload)
	}
}

// dispatch demultiplexes one inbound frame. A malformed frame is
// logged and dropped: a single bad message must not take down the
// pipeline.
func (c *Client) dispatch(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.WithField("err", err).Warn("dropping undecodable socket frame")
		return
	}

	switch env.Type {
	case msgStatusUpdate:
		var ev types.StatusEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.WithField("err", err).Warn("dropping malformed status_update")
			return
		}
		if c.handlers.OnStatus != nil {
			c.handlers.OnStatus(ev)
		}
	case msgLocationUpdate:
		var ev types.LocationEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.WithField("err", err).Warn("dropping malformed location_update")
			return
		}
		if c.handlers.OnLocation != nil {
			c.handlers.OnLocation(ev)
		}
	case msgVehicleUpdate:
		var rec types.VehicleRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			log.WithField("err", err).Warn("dropping malformed vehicle_update")
			return
		}
		if c.handlers.OnVehicle != nil {
			c.handlers.OnVehicle(rec)
		}
	case msgNewAlert:
		var p alertPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.WithField("err", err).Warn("dropping malformed new_alert")
			return
		}
		if c.handlers.OnAlert != nil {
			c.handlers.OnAlert(types.Alert{
				AlertID:     p.AlertID,
				InstituteID: p.InstituteID,
				DeviceID:    p.DeviceID,
				Data:        p.AlertData,
				ReceivedAt:  time.Now().UTC(),
			})
		}
	case msgMonitoringLog:
		var p monitoringPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.WithField("err", err).Warn("dropping malformed monitoring_log")
			return
		}
		if c.handlers.OnMonitoringLog != nil {
			c.handlers.OnMonitoringLog(types.MonitoringLog{
				Message:    p.Message,
				ReceivedAt: time.Now().UTC(),
			})
		}
	case msgJoinAck:
		c.mu.Lock()
		ack, ok := c.pendingAcks[env.CorrelationID]
		if ok {
			delete(c.pendingAcks, env.CorrelationID)
		}
		c.mu.Unlock()
		if ok {
			ack <- struct{}{}
		}
	default:
		log.WithField("type", env.Type).Debug("dropping unknown socket frame")
	}
}

func (c *Client) send(env envelope) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		log.WithFields(log.Fields{"err": err, "type": env.Type}).Warn("socket write failed")
	}
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}
