package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

const (
	defaultQueueSize  = 256
	defaultPurgeEvery = time.Hour
)

type recordOp struct {
	start *models.SessionRecord

	endID       string
	endedAt     time.Time
	reason      string
	deviceCount int
}

// Recorder writes session history in the background so callers on the relay
// event loop never wait on disk. When its queue is full, records are dropped.
type Recorder struct {
	store      Storage
	retention  time.Duration
	purgeEvery time.Duration
	logger     *logger.Logger

	queue   chan recordOp
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewRecorder creates a recorder. retention <= 0 disables purging.
func NewRecorder(store Storage, retention time.Duration, log *logger.Logger) *Recorder {
	return &Recorder{
		store:      store,
		retention:  retention,
		purgeEvery: defaultPurgeEvery,
		logger:     log.With("component", "history"),
		queue:      make(chan recordOp, defaultQueueSize),
		stop:       make(chan struct{}),
	}
}

// Start launches the background writer
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info("History recorder started", "retention", r.retention)
}

// Stop flushes queued records and waits for the writer to exit
func (r *Recorder) Stop() {
	r.once.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

// SessionStarted queues the creation record of a session
func (r *Recorder) SessionStarted(rec models.SessionRecord) {
	r.enqueue(recordOp{start: &rec})
}

// SessionEnded queues the end of a session
func (r *Recorder) SessionEnded(id string, endedAt time.Time, reason string, deviceCount int) {
	r.enqueue(recordOp{endID: id, endedAt: endedAt, reason: reason, deviceCount: deviceCount})
}

// Dropped returns how many records were discarded on a full queue
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) enqueue(op recordOp) {
	select {
	case r.queue <- op:
	default:
		r.dropped.Add(1)
		r.logger.Warn("History queue full, dropping record")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.purgeEvery)
	defer ticker.Stop()

	for {
		select {
		case op := <-r.queue:
			r.write(op)
		case <-ticker.C:
			r.purge()
		case <-r.stop:
			for {
				select {
				case op := <-r.queue:
					r.write(op)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(op recordOp) {
	if op.start != nil {
		if err := r.store.CreateSessionRecord(op.start); err != nil {
			r.logger.Error("Failed to record session start", "session_id", op.start.ID, "error", err)
		}
		return
	}
	if err := r.store.EndSessionRecord(op.endID, op.endedAt, op.reason, op.deviceCount); err != nil {
		r.logger.Error("Failed to record session end", "session_id", op.endID, "error", err)
	}
}

func (r *Recorder) purge() {
	if r.retention <= 0 {
		return
	}
	n, err := r.store.PurgeEndedBefore(time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("Failed to purge history", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("Purged session history", "records", n)
	}
}
