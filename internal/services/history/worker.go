package history

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ratewatch/ratewatch/internal/services/counter"
	"github.com/ratewatch/ratewatch/internal/services/metrics"
)

const (
	sealAttempts = 3
	retryBackoff = 100 * time.Millisecond
)

// Worker drains sealed buckets off the traffic path and persists them
// through the recorder. It implements counter.SealSink.
type Worker struct {
	recorder *Recorder
	metrics  *metrics.Metrics
	tasks    chan counter.SealTask
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewWorker creates a sealing worker pool with the specified pool and
// buffer sizes. m may be nil.
func NewWorker(recorder *Recorder, m *metrics.Metrics, poolSize, bufferSize int) *Worker {
	w := &Worker{
		recorder: recorder,
		metrics:  m,
		tasks:    make(chan counter.SealTask, bufferSize),
		stopped:  make(chan struct{}),
	}

	for i := 0; i < poolSize; i++ {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// Enqueue submits a sealed bucket for persistence. Never blocks: when the
// buffer is full the task is dropped with a warning, trading history
// completeness for traffic-path latency.
func (w *Worker) Enqueue(task counter.SealTask) {
	select {
	case <-w.stopped:
		fiberlog.Warnf("history worker stopped, dropping sealed bucket for %s %d", task.Kind, task.ID)
		return
	case w.tasks <- task:
	default:
		fiberlog.Warnf("history buffer full, dropping sealed bucket for %s %d minute %s",
			task.Kind, task.ID, task.Bucket.Minute.Format("15:04"))
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			// Drain what is already buffered before exiting.
			for {
				select {
				case task := <-w.tasks:
					w.seal(task)
				default:
					return
				}
			}
		case task := <-w.tasks:
			w.seal(task)
		}
	}
}

// seal retries transient storage failures; the upsert makes retries safe.
func (w *Worker) seal(task counter.SealTask) {
	var err error
	for attempt := 1; attempt <= sealAttempts; attempt++ {
		err = w.recorder.Seal(context.Background(), task.Kind, task.ID, task.Bucket)
		if err == nil {
			w.metrics.RecordSeal()
			return
		}
		if attempt < sealAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}
	w.metrics.RecordSealFailure()
	fiberlog.Errorf("giving up sealing %s %d minute %s after %d attempts: %v",
		task.Kind, task.ID, task.Bucket.Minute.Format("15:04"), sealAttempts, err)
}

// Stop gracefully stops the worker pool, draining buffered tasks.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.wg.Wait()
	})
}
