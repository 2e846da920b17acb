package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// auditEntry bundles an execution row with the detector hits recorded for
// it, so both land in the database from one queue slot.
type auditEntry struct {
	exec   *Execution
	events []*SecurityEventRecord
}

// AuditWriter persists execution records off the request path. Entries are
// buffered and written by a single background goroutine; when the buffer is
// full the entry is dropped rather than blocking an execution response.
type AuditWriter struct {
	db   *DB
	ch   chan auditEntry
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan auditEntry, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues one execution row plus any detector hits tied to it.
func (w *AuditWriter) Log(exec *Execution, events ...*SecurityEventRecord) {
	select {
	case w.ch <- auditEntry{exec: exec, events: events}:
	default:
		log.Warn().Str("exec_id", exec.ID).Msg("audit buffer full, dropping log entry")
	}
}

func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.ch:
			w.write(entry)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case entry := <-w.ch:
					w.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) write(entry auditEntry) {
	if !w.writeWithRetry(entry.exec) {
		return
	}
	for _, ev := range entry.events {
		ev.ExecutionID = entry.exec.ID
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogSecurityEvent(ctx, ev)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("exec_id", entry.exec.ID).Msg("security event write failed")
		}
	}
}

func (w *AuditWriter) writeWithRetry(exec *Execution) bool {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogExecution(ctx, exec)
		cancel()

		if err == nil {
			return true
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("exec_id", exec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", exec.ID).
				Msg("audit write failed permanently after retries")
		}
	}
	return false
}
