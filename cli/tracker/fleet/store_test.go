package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

func iptr(v int) *int         { return &v }
func bptr(v bool) *bool       { return &v }
func fptr(v float64) *float64 { return &v }

func seedStore(t *testing.T, ids ...types.DeviceID) *Store {
	t.Helper()
	s := NewStore(30 * time.Minute)
	recs := make([]types.VehicleRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, types.VehicleRecord{ID: id})
	}
	s.LoadBulk(recs)
	return s
}

func TestApplyStatusMergesPartialFields(t *testing.T) {
	s := seedStore(t, "860000000000001")
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, s.ApplyStatus(types.StatusEvent{
		DeviceID:     "860000000000001",
		BatteryLevel: iptr(80),
		IgnitionOn:   bptr(true),
		ObservedAt:   base,
	}))

	// A later partial update must not erase fields it does not carry.
	assert.True(t, s.ApplyStatus(types.StatusEvent{
		DeviceID:    "860000000000001",
		SignalLevel: iptr(4),
		ObservedAt:  base.Add(time.Minute),
	}))

	rec, ok := s.Record("860000000000001")
	assert.True(t, ok)
	assert.Equal(t, 80, rec.Status.BatteryLevel)
	assert.Equal(t, 4, rec.Status.SignalLevel)
	assert.True(t, rec.Status.IgnitionOn)
	assert.Equal(t, base.Add(time.Minute), rec.Status.ObservedAt)
}

func TestApplyStatusIdempotent(t *testing.T) {
	s := seedStore(t, "860000000000001")
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	ev := types.StatusEvent{
		DeviceID:     "860000000000001",
		BatteryLevel: iptr(70),
		ObservedAt:   base,
	}

	fired := 0
	dispose := s.OnStatus(func(types.StatusSnapshot) { fired++ })
	defer dispose()

	assert.True(t, s.ApplyStatus(ev))
	assert.False(t, s.ApplyStatus(ev), "same event twice must be a no-op")

	rec, _ := s.Record("860000000000001")
	assert.Equal(t, 70, rec.Status.BatteryLevel)
	assert.Equal(t, 1, fired, "listeners must not fire on the duplicate")
}

func TestApplyLocationOutOfOrder(t *testing.T) {
	s := seedStore(t, "860000000000001")
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	assert.True(t, s.ApplyLocation(types.LocationEvent{
		DeviceID:   "860000000000001",
		Latitude:   fptr(55.75),
		Longitude:  fptr(37.61),
		SpeedKmh:   fptr(40),
		ObservedAt: base.Add(time.Minute),
	}))

	// An older event arriving late must not win.
	assert.False(t, s.ApplyLocation(types.LocationEvent{
		DeviceID:   "860000000000001",
		Latitude:   fptr(55.00),
		SpeedKmh:   fptr(90),
		ObservedAt: base,
	}))

	rec, _ := s.Record("860000000000001")
	assert.InDelta(t, 55.75, rec.Location.Latitude, 1e-9)
	assert.InDelta(t, 40.0, rec.Location.SpeedKmh, 1e-9)
}

func TestUnknownDeviceDropped(t *testing.T) {
	s := seedStore(t, "860000000000001")

	applied := s.ApplyStatus(types.StatusEvent{
		DeviceID:   "999999999999999",
		IgnitionOn: bptr(true),
		ObservedAt: time.Now(),
	})

	assert.False(t, applied)
	assert.Equal(t, 1, s.Size(), "no phantom record may be created")
	_, ok := s.Record("999999999999999")
	assert.False(t, ok)
}

func TestMissingDeviceIDDropped(t *testing.T) {
	s := seedStore(t, "860000000000001")
	assert.False(t, s.ApplyStatus(types.StatusEvent{ObservedAt: time.Now()}))
	assert.False(t, s.ApplyLocation(types.LocationEvent{ObservedAt: time.Now()}))
}

func TestFocusSuppressesOtherDevices(t *testing.T) {
	s := seedStore(t, "860000000000001", "860000000000002")
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	s.SetFocus("860000000000001")

	assert.False(t, s.ApplyStatus(types.StatusEvent{
		DeviceID: "860000000000002", IgnitionOn: bptr(true), ObservedAt: base,
	}))
	assert.True(t, s.ApplyStatus(types.StatusEvent{
		DeviceID: "860000000000001", IgnitionOn: bptr(true), ObservedAt: base,
	}))

	// Clearing the focus readmits everyone.
	s.SetFocus("")
	assert.True(t, s.ApplyStatus(types.StatusEvent{
		DeviceID: "860000000000002", IgnitionOn: bptr(true), ObservedAt: base,
	}))
}

func TestAggregateCountsSumToAll(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore(30 * time.Minute)

	s.LoadBulk([]types.VehicleRecord{
		{ID: "1"}, // no data
		{ID: "2", Status: &types.StatusSnapshot{IgnitionOn: false, ObservedAt: now}},                                                                               // stopped
		{ID: "3", Status: &types.StatusSnapshot{IgnitionOn: true, ObservedAt: now}},                                                                                // idle
		{ID: "4", Status: &types.StatusSnapshot{IgnitionOn: true, ObservedAt: now}, Location: &types.LocationSnapshot{SpeedKmh: 50, ObservedAt: now}},              // running
		{ID: "5", Status: &types.StatusSnapshot{IgnitionOn: true, ObservedAt: now.Add(-2 * time.Hour)}},                                                            // inactive
		{ID: "6", Attributes: types.StaticAttributes{SpeedLimitKmh: 60}, Status: &types.StatusSnapshot{IgnitionOn: true, ObservedAt: now}, Location: &types.LocationSnapshot{SpeedKmh: 90, ObservedAt: now}}, // overspeed
	})

	c := s.AggregateCounts(now)
	assert.Equal(t, 6, c.All)
	assert.Equal(t, 1, c.NoData)
	assert.Equal(t, 1, c.Stopped)
	assert.Equal(t, 1, c.Idle)
	assert.Equal(t, 1, c.Running)
	assert.Equal(t, 1, c.Inactive)
	assert.Equal(t, 1, c.Overspeed)
	assert.Equal(t, c.All, c.Running+c.Stopped+c.Idle+c.Overspeed+c.Inactive+c.NoData)
	assert.Equal(t, s.Size(), c.All)
}

func TestMergeBulkKeepsNewerSnapshots(t *testing.T) {
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore(30 * time.Minute)
	s.LoadBulk([]types.VehicleRecord{{
		ID:       "860000000000001",
		Location: &types.LocationSnapshot{Latitude: 55.75, ObservedAt: now},
	}})

	// A later page carries an older location for the same vehicle plus a
	// brand-new vehicle.
	s.MergeBulk([]types.VehicleRecord{
		{
			ID:         "860000000000001",
			Attributes: types.StaticAttributes{Name: "truck-1"},
			Location:   &types.LocationSnapshot{Latitude: 54.00, ObservedAt: now.Add(-time.Hour)},
		},
		{ID: "860000000000002"},
	})

	assert.Equal(t, 2, s.Size())
	rec, _ := s.Record("860000000000001")
	assert.Equal(t, "truck-1", rec.Attributes.Name)
	assert.InDelta(t, 55.75, rec.Location.Latitude, 1e-9, "older page must not clobber live state")
}

func TestSubscriptionDisposer(t *testing.T) {
	s := seedStore(t, "860000000000001")
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

	fired := 0
	dispose := s.OnLocation(func(types.LocationSnapshot) { fired++ })

	s.ApplyLocation(types.LocationEvent{DeviceID: "860000000000001", Latitude: fptr(1), ObservedAt: base})
	dispose()
	dispose() // double dispose must be safe
	s.ApplyLocation(types.LocationEvent{DeviceID: "860000000000001", Latitude: fptr(2), ObservedAt: base.Add(time.Minute)})

	assert.Equal(t, 1, fired)
}

func TestAlertFanOut(t *testing.T) {
	s := seedStore(t, "860000000000001")

	var got types.Alert
	dispose := s.OnAlert(func(a types.Alert) { got = a })
	defer dispose()

	s.PublishAlert(types.Alert{AlertID: "a-1", DeviceID: "860000000000001"})
	assert.Equal(t, "a-1", got.AlertID)
}
