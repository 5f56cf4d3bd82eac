package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-engine/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	defaultBufferSize = 1024
	batchSize         = 100
	flushInterval     = 5 * time.Second
)

// Appender is the slice of the usage log store the recorder writes to.
type Appender interface {
	CreateBatch(ctx context.Context, recs []*models.UsageRecord) error
}

// Writes usage records off the request path: Record queues into a
// buffered channel, a single worker batches inserts. A lost record
// degrades analytics and billing accuracy but never fails a request.
type Recorder struct {
	appender Appender
	ch       chan models.UsageRecord
	done     chan struct{}
	stopOnce sync.Once
}

func New(appender Appender, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	r := &Recorder{
		appender: appender,
		ch:       make(chan models.UsageRecord, bufferSize),
		done:     make(chan struct{}),
	}

	go r.run()
	return r
}

// Record queues one usage record without blocking. A full buffer drops
// the record with a warning.
func (r *Recorder) Record(rec models.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Cost <= 0 {
		rec.Cost = 1
	}

	select {
	case r.ch <- rec:
	default:
		log.Warnf("usage recorder buffer full, dropping record (user=%s endpoint=%s)", rec.UserID, rec.Endpoint)
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]*models.UsageRecord, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				r.flush(batch)
				return
			}

			recCopy := rec
			batch = append(batch, &recCopy)

			if len(batch) >= batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []*models.UsageRecord) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.appender.CreateBatch(ctx, batch); err != nil {
		log.Errorf("usage recorder: batch insert of %d records failed: %v", len(batch), err)
	}
}

// Stop drains queued records and flushes the final batch. Callers must
// not Record after Stop; the server shuts the HTTP listener down first.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.ch)
		<-r.done
	})
}
