package fleet

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

// Store reconciles the unordered per-device event stream into the
// latest-known fleet state. Merges are last-write-wins on ObservedAt
// and idempotent, so duplicate and out-of-order delivery is harmless.
//
// The store only reconciles events for vehicles it already knows about;
// an event for an unknown IMEI is dropped rather than creating a
// phantom record from a stale or malicious message.
type Store struct {
	mu            sync.RWMutex
	records       map[types.DeviceID]*types.VehicleRecord
	focus         types.DeviceID
	inactiveAfter time.Duration

	nextSub      int
	statusSubs   map[int]func(types.StatusSnapshot)
	locationSubs map[int]func(types.LocationSnapshot)
	fleetSubs    map[int]func([]types.VehicleRecord)
	alertSubs    map[int]func(types.Alert)
}

// NewStore creates an empty store. inactiveAfter is the staleness
// threshold used by AggregateCounts.
func NewStore(inactiveAfter time.Duration) *Store {
	return &Store{
		records:       make(map[types.DeviceID]*types.VehicleRecord),
		inactiveAfter: inactiveAfter,
		statusSubs:    make(map[int]func(types.StatusSnapshot)),
		locationSubs:  make(map[int]func(types.LocationSnapshot)),
		fleetSubs:     make(map[int]func([]types.VehicleRecord)),
		alertSubs:     make(map[int]func(types.Alert)),
	}
}

// LoadBulk replaces the entire mapping, e.g. on an explicit fleet
// reload. Fleet subscribers are notified with the new snapshot.
func (s *Store) LoadBulk(records []types.VehicleRecord) {
	s.mu.Lock()
	s.records = make(map[types.DeviceID]*types.VehicleRecord, len(records))
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			continue
		}
		s.records[rec.ID] = &rec
	}
	subs, snapshot := s.fleetCallbacksLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// MergeBulk upserts records without touching vehicles absent from the
// batch. Later pages of a paginated load land here so the first page
// can render immediately while the rest backfills.
func (s *Store) MergeBulk(records []types.VehicleRecord) {
	s.mu.Lock()
	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			continue
		}
		if existing, ok := s.records[rec.ID]; ok {
			// Registry attributes refresh; live snapshots are kept
			// unless the batch carries newer ones.
			existing.Attributes = rec.Attributes
			if newerStatus(existing.Status, rec.Status) {
				existing.Status = rec.Status
			}
			if newerLocation(existing.Location, rec.Location) {
				existing.Location = rec.Location
			}
			continue
		}
		s.records[rec.ID] = &rec
	}
	subs, snapshot := s.fleetCallbacksLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// SetFocus restricts event application to a single device; events for
// any other device are silently dropped while the focus is set. An
// empty id clears the focus.
func (s *Store) SetFocus(id types.DeviceID) {
	s.mu.Lock()
	s.focus = id
	s.mu.Unlock()
}

// ApplyStatus merges a partial status event. Returns true when the
// record changed (false for drops and stale or duplicate events).
func (s *Store) ApplyStatus(ev types.StatusEvent) bool {
	if ev.DeviceID == "" {
		log.Debug("dropping status event without device id")
		return false
	}

	s.mu.Lock()
	rec, ok := s.admitLocked(ev.DeviceID)
	if !ok {
		s.mu.Unlock()
		return false
	}

	prev := rec.Status
	if prev != nil && !ev.ObservedAt.After(prev.ObservedAt) {
		s.mu.Unlock()
		return false
	}

	next := types.StatusSnapshot{DeviceID: ev.DeviceID, ObservedAt: ev.ObservedAt}
	if prev != nil {
		next = *prev
		next.ObservedAt = ev.ObservedAt
	}
	if ev.BatteryLevel != nil {
		next.BatteryLevel = *ev.BatteryLevel
	}
	if ev.SignalLevel != nil {
		next.SignalLevel = *ev.SignalLevel
	}
	if ev.IgnitionOn != nil {
		next.IgnitionOn = *ev.IgnitionOn
	}
	if ev.Charging != nil {
		next.Charging = *ev.Charging
	}
	if ev.RelayOn != nil {
		next.RelayOn = *ev.RelayOn
	}
	rec.Status = &next

	subs := make([]func(types.StatusSnapshot), 0, len(s.statusSubs))
	for _, fn := range s.statusSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return true
}

// ApplyLocation merges a partial location event, symmetric to
// ApplyStatus and versioned independently of it.
func (s *Store) ApplyLocation(ev types.LocationEvent) bool {
	if ev.DeviceID == "" {
		log.Debug("dropping location event without device id")
		return false
	}

	s.mu.Lock()
	rec, ok := s.admitLocked(ev.DeviceID)
	if !ok {
		s.mu.Unlock()
		return false
	}

	prev := rec.Location
	if prev != nil && !ev.ObservedAt.After(prev.ObservedAt) {
		s.mu.Unlock()
		return false
	}

	next := types.LocationSnapshot{DeviceID: ev.DeviceID, ObservedAt: ev.ObservedAt}
	if prev != nil {
		next = *prev
		next.ObservedAt = ev.ObservedAt
	}
	if ev.Latitude != nil {
		next.Latitude = *ev.Latitude
	}
	if ev.Longitude != nil {
		next.Longitude = *ev.Longitude
	}
	if ev.SpeedKmh != nil {
		next.SpeedKmh = *ev.SpeedKmh
	}
	if ev.Course != nil {
		next.Course = *ev.Course
	}
	if ev.SatelliteCount != nil {
		next.SatelliteCount = *ev.SatelliteCount
	}
	if ev.RealTimeGps != nil {
		next.RealTimeGps = *ev.RealTimeGps
	}
	rec.Location = &next

	subs := make([]func(types.LocationSnapshot), 0, len(s.locationSubs))
	for _, fn := range s.locationSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return true
}

// PublishAlert fans an alert out to alert subscribers.
func (s *Store) PublishAlert(a types.Alert) {
	s.mu.RLock()
	subs := make([]func(types.Alert), 0, len(s.alertSubs))
	for _, fn := range s.alertSubs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(a)
	}
}

// Record returns a copy of one record.
func (s *Store) Record(id types.DeviceID) (types.VehicleRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return types.VehicleRecord{}, false
	}
	return copyRecord(rec), true
}

// Snapshot returns copies of all records, ordered by IMEI for stable
// output.
func (s *Store) Snapshot() []types.VehicleRecord {
	s.mu.RLock()
	out := make([]types.VehicleRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Size returns the number of known vehicles.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// AggregateCounts classifies every record at the store's configured
// inactivity threshold. The six buckets always sum to All.
func (s *Store) AggregateCounts(now time.Time) types.AggregateCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c types.AggregateCounts
	for _, rec := range s.records {
		c.All++
		switch Classify(*rec, now, s.inactiveAfter) {
		case StateRunning:
			c.Running++
		case StateStopped:
			c.Stopped++
		case StateIdle:
			c.Idle++
		case StateOverspeed:
			c.Overspeed++
		case StateInactive:
			c.Inactive++
		default:
			c.NoData++
		}
	}
	return c
}

// OnStatus subscribes to merged status snapshots. The returned disposer
// unregisters the callback and is safe to call more than once.
func (s *Store) OnStatus(fn func(types.StatusSnapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.statusSubs[id] = fn
	return s.disposer(func() { delete(s.statusSubs, id) })
}

// OnLocation subscribes to merged location snapshots.
func (s *Store) OnLocation(fn func(types.LocationSnapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.locationSubs[id] = fn
	return s.disposer(func() { delete(s.locationSubs, id) })
}

// OnFleet subscribes to bulk reloads and merges.
func (s *Store) OnFleet(fn func([]types.VehicleRecord)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.fleetSubs[id] = fn
	return s.disposer(func() { delete(s.fleetSubs, id) })
}

// OnAlert subscribes to published alerts.
func (s *Store) OnAlert(fn func(types.Alert)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.alertSubs[id] = fn
	return s.disposer(func() { delete(s.alertSubs, id) })
}

// admitLocked applies the focus filter and the known-device rule.
func (s *Store) admitLocked(id types.DeviceID) (*types.VehicleRecord, bool) {
	if s.focus != "" && id != s.focus {
		return nil, false
	}
	rec, ok := s.records[id]
	if !ok {
		log.WithField("imei", id).Debug("dropping event for unknown device")
		return nil, false
	}
	return rec, true
}

func (s *Store) disposer(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			remove()
			s.mu.Unlock()
		})
	}
}

func (s *Store) fleetCallbacksLocked() ([]func([]types.VehicleRecord), []types.VehicleRecord) {
	subs := make([]func([]types.VehicleRecord), 0, len(s.fleetSubs))
	for _, fn := range s.fleetSubs {
		subs = append(subs, fn)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	snapshot := make([]types.VehicleRecord, 0, len(s.records))
	for _, rec := range s.records {
		snapshot = append(snapshot, copyRecord(rec))
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return subs, snapshot
}

func copyRecord(rec *types.VehicleRecord) types.VehicleRecord {
	out := *rec
	if rec.Status != nil {
		st := *rec.Status
		out.Status = &st
	}
	if rec.Location != nil {
		loc := *rec.Location
		out.Location = &loc
	}
	return out
}

func newerStatus(old, candidate *types.StatusSnapshot) bool {
	if candidate == nil {
		return false
	}
	return old == nil || candidate.ObservedAt.After(old.ObservedAt)
}

func newerLocation(old, candidate *types.LocationSnapshot) bool {
	if candidate == nil {
		return false
	}
	return old == nil || candidate.ObservedAt.After(old.ObservedAt)
}
