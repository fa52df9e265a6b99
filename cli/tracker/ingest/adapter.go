package ingest

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetwatch/fleetwatch/cli/tracker/fleet"
	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// StatePoller fetches the latest snapshots for one device over REST.
// The history client implements it; tests stub it.
type StatePoller interface {
	LatestState(ctx context.Context, id types.DeviceID) (*types.StatusEvent, *types.LocationEvent, error)
}

// EventSink archives alerts and monitoring-log lines. The storage
// async repository implements it.
type EventSink interface {
	Save(interface{ ToBytes() ([]byte, error) }) error
}

// AdapterOptions tune the polling fallback.
type AdapterOptions struct {
	// PollInterval between REST polls of the focused device.
	PollInterval time.Duration

	// ConnectTimeout after which polling arms if the socket has not
	// reached Connected.
	ConnectTimeout time.Duration
}

// DefaultAdapterOptions returns the reference fallback policy.
func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{
		PollInterval:   10 * time.Second,
		ConnectTimeout: 15 * time.Second,
	}
}

// Adapter binds the socket client to the reconciliation store and owns
// the REST polling fallback for the focused device. Polling and socket
// delivery are mutually exclusive for a device: the socket takes
// priority whenever it is connected, so a poll and a push can never
// race conflicting updates through different paths.
type Adapter struct {
	store  *fleet.Store
	client *Client
	poller StatePoller
	sink   EventSink
	opts   AdapterOptions

	mu         sync.Mutex
	focus      types.DeviceID
	polling    bool
	pollCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter wires the pieces together. sink may be nil when no archive
// backends are configured.
func NewAdapter(socketURL string, store *fleet.Store, poller StatePoller, sink EventSink, clientOpts ClientOptions, opts AdapterOptions) *Adapter {
	if opts.PollInterval <= 0 {
		opts = DefaultAdapterOptions()
	}

	a := &Adapter{
		store:  store,
		poller: poller,
		sink:   sink,
		opts:   opts,
	}
	a.client = NewClient(socketURL, Handlers{
		OnStatus:        func(ev types.StatusEvent) { store.ApplyStatus(ev) },
		OnLocation:      func(ev types.LocationEvent) { store.ApplyLocation(ev) },
		OnVehicle:       func(rec types.VehicleRecord) { store.MergeBulk([]types.VehicleRecord{rec}) },
		OnAlert:         a.handleAlert,
		OnMonitoringLog: a.handleMonitoringLog,
		OnStateChange:   a.handleStateChange,
	}, clientOpts)
	return a
}

// Run starts the socket and arms the polling fallback if the socket
// does not come up within the connect timeout.
func (a *Adapter) Run(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.client.Connect(a.ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(a.opts.ConnectTimeout):
			if !a.client.Connected() {
				log.Warn("socket not connected within timeout, falling back to polling")
				a.startPolling()
			}
		}
	}()
}

// Close releases the socket, the polling ticker and every room join.
func (a *Adapter) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.stopPolling()
	a.client.Close()
	a.wg.Wait()
}

// Connected reports the socket state for UI indicators.
func (a *Adapter) Connected() bool {
	return a.client.Connected()
}

// Client exposes the socket client for room management by the API
// layer.
func (a *Adapter) Client() *Client {
	return a.client
}

// SetFocus switches detail-tracking to one device: the store drops
// events for everyone else, the socket joins the device room and the
// polling fallback (if armed) re-targets. An empty id clears the focus.
func (a *Adapter) SetFocus(id types.DeviceID) {
	a.mu.Lock()
	prev := a.focus
	a.focus = id
	a.mu.Unlock()

	a.store.SetFocus(id)

	if prev != "" && prev != id {
		a.client.LeaveDevice(prev)
	}
	if id != "" {
		a.client.JoinDevice(id)
	}
}

func (a *Adapter) handleAlert(alert types.Alert) {
	a.store.PublishAlert(alert)
	a.archive(alert)
}

func (a *Adapter) handleMonitoringLog(m types.MonitoringLog) {
	log.WithField("message", m.Message).Info("monitoring log")
	a.archive(m)
}

func (a *Adapter) archive(ev interface{ ToBytes() ([]byte, error) }) {
	if a.sink == nil {
		return
	}
	if err := a.sink.Save(ev); err != nil {
		log.WithField("err", err).Error("failed to archive event")
	}
}

func (a *Adapter) handleStateChange(s ConnState) {
	switch s {
	case StateConnected:
		// Socket wins: polling must be off while pushes flow.
		a.stopPolling()
	case StateDisconnected:
		// Terminal state after retry exhaustion (or shutdown).
		if a.ctx != nil && a.ctx.Err() == nil {
			a.startPolling()
		}
	}
}

func (a *Adapter) startPolling() {
	if a.poller == nil {
		return
	}

	a.mu.Lock()
	if a.polling {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.polling = true
	a.pollCancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.pollLoop(ctx)
}

func (a *Adapter) stopPolling() {
	a.mu.Lock()
	if a.pollCancel != nil {
		a.pollCancel()
		a.pollCancel = nil
	}
	a.polling = false
	a.mu.Unlock()
}

// pollLoop periodically fetches the focused device's latest state and
// feeds it through the same merge path the socket uses, so downstream
// consumers cannot tell the transports apart.
func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			focus := a.focus
			a.mu.Unlock()
			if focus == "" {
				continue
			}

			pollCtx, cancel := context.WithTimeout(ctx, a.opts.PollInterval)
			status, location, err := a.poller.LatestState(pollCtx, focus)
			cancel()
			if err != nil {
				log.WithFields(log.Fields{"err": err, "imei": focus}).Warn("poll failed")
				continue
			}
			if status != nil {
				a.store.ApplyStatus(*status)
			}
			if location != nil {
				a.store.ApplyLocation(*location)
			}
		}
	}
}
