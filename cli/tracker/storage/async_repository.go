package storage

import (
	"fmt"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
)

// AsyncRepository decouples event producers from slow sinks: Save
// enqueues and a worker pool drains into the underlying repository.
type AsyncRepository struct {
	repo *Repository
	ch   chan interface{ ToBytes() ([]byte, error) }
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAsyncRepository(repo *Repository, buffer, workers int) *AsyncRepository {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ar := &AsyncRepository{
		repo: repo,
		ch:   make(chan interface{ ToBytes() ([]byte, error) }, buffer),
	}
	for i := 0; i < workers; i++ {
		ar.wg.Add(1)
		go ar.worker()
	}
	return ar
}

func (a *AsyncRepository) worker() {
	defer a.wg.Done()
	for msg := range a.ch {
		if err := a.repo.Save(msg); err != nil {
			log.WithField("err", err).Error("failed to archive event")
		}
	}
}

// Save enqueues the event. The send happens under the mutex so it is
// serialized with Close: once the closed flag is set the channel can
// no longer be reached, and a Save racing a Close either lands before
// the channel closes or fails cleanly.
func (a *AsyncRepository) Save(m interface{ ToBytes() ([]byte, error) }) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("async repository is closed")
	}
	a.ch <- m
	return nil
}

// Close rejects further Saves, then waits for the workers to drain
// everything already queued. Safe to call more than once.
func (a *AsyncRepository) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.ch)
	a.wg.Wait()
}
