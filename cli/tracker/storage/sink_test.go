package storage

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/fleetwatch/fleetwatch/cli/tracker/types"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	m.Run()
}

// mockSaver implements the Saver interface for testing. Counting is
// mutex-guarded because the async repository saves from several
// workers.
type mockSaver struct {
	mu        sync.Mutex
	saveCount int
	failWith  error
}

func (ms *mockSaver) Save(data interface{ ToBytes() ([]byte, error) }) error {
	if ms.failWith != nil {
		return ms.failWith
	}
	ms.mu.Lock()
	ms.saveCount++
	ms.mu.Unlock()
	return nil
}

func (ms *mockSaver) count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.saveCount
}

func testAlert() types.Alert {
	return types.Alert{AlertID: "a-1", DeviceID: "860000000000001", InstituteID: "i-1"}
}

func TestRepositorySeasonGate(t *testing.T) {
	tests := []struct {
		name       string
		startMonth int
		endMonth   int
		current    time.Time
		expectSave bool
	}{
		{
			name:       "mid-season",
			startMonth: 5, endMonth: 9,
			current:    time.Date(2023, time.July, 15, 0, 0, 0, 0, time.UTC),
			expectSave: true,
		},
		{
			name:       "after season",
			startMonth: 5, endMonth: 9,
			current:    time.Date(2023, time.October, 15, 0, 0, 0, 0, time.UTC),
			expectSave: false,
		},
		{
			name:       "first month of season",
			startMonth: 5, endMonth: 9,
			current:    time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC),
			expectSave: true,
		},
		{
			name:       "last month of season",
			startMonth: 5, endMonth: 9,
			current:    time.Date(2023, time.September, 30, 0, 0, 0, 0, time.UTC),
			expectSave: true,
		},
		{
			// School-bus style season wrapping year-end.
			name:       "wrap-around season, winter",
			startMonth: 9, endMonth: 6,
			current:    time.Date(2023, time.January, 15, 0, 0, 0, 0, time.UTC),
			expectSave: true,
		},
		{
			name:       "wrap-around season, summer break",
			startMonth: 9, endMonth: 6,
			current:    time.Date(2023, time.July, 15, 0, 0, 0, 0, time.UTC),
			expectSave: false,
		},
		{
			name:       "year-round",
			startMonth: 1, endMonth: 12,
			current:    time.Date(2023, time.July, 15, 0, 0, 0, 0, time.UTC),
			expectSave: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &mockSaver{}
			repo := NewRepository(tt.startMonth, tt.endMonth)
			repo.AddSink(saver)

			originalNow := now
			now = func() time.Time { return tt.current }
			defer func() { now = originalNow }()

			err := repo.Save(testAlert())
			assert.NoError(t, err)
			assert.Equal(t, tt.expectSave, saver.saveCount == 1)
		})
	}
}

func TestRepositoryFanOut(t *testing.T) {
	first := &mockSaver{}
	second := &mockSaver{}

	repo := NewRepository(1, 12)
	repo.AddSink(first)
	repo.AddSink(second)

	assert.NoError(t, repo.Save(testAlert()))
	assert.Equal(t, 1, first.saveCount)
	assert.Equal(t, 1, second.saveCount)
}

func TestRepositoryFanOutAbortsOnError(t *testing.T) {
	broken := &mockSaver{failWith: fmt.Errorf("sink down")}
	after := &mockSaver{}

	repo := NewRepository(1, 12)
	repo.AddSink(broken)
	repo.AddSink(after)

	assert.Error(t, repo.Save(testAlert()))
	assert.Zero(t, after.saveCount)
}

func TestLoadSinksRejectsUnknownAndEmpty(t *testing.T) {
	repo := NewRepository(1, 12)

	assert.ErrorIs(t, repo.LoadSinks(nil), ErrNoSinks)
	assert.ErrorIs(t, repo.LoadSinks(map[string]map[string]string{
		"carrier_pigeon": {},
	}), ErrUnknownSink)
}

func TestAsyncRepositoryDrainsAndCloses(t *testing.T) {
	saver := &mockSaver{}
	repo := NewRepository(1, 12)
	repo.AddSink(saver)

	async := NewAsyncRepository(repo, 16, 2)
	for i := 0; i < 10; i++ {
		assert.NoError(t, async.Save(testAlert()))
	}
	async.Close()

	// mockSaver is only touched by workers that Close has joined.
	assert.Equal(t, 10, saver.count())

	assert.Error(t, async.Save(testAlert()), "saving after close must fail")
}

func TestAsyncRepositorySaveRacingCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 500; i++ {
		repo := NewRepository(1, 12)
		repo.AddSink(&mockSaver{})
		async := NewAsyncRepository(repo, 2, 1)

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Saves overlapping Close either land or fail cleanly.
			for j := 0; j < 5; j++ {
				_ = async.Save(testAlert())
			}
		}()

		async.Close()
		<-done

		assert.Error(t, async.Save(testAlert()))
	}
}

func TestAsyncRepositoryCloseIdempotent(t *testing.T) {
	repo := NewRepository(1, 12)
	repo.AddSink(&mockSaver{})
	async := NewAsyncRepository(repo, 4, 1)

	async.Close()
	async.Close()
}
