// Package historian drains the room action queue into durable storage in batches.
package historian

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/storyteller/internal/models"
	"github.com/sirupsen/logrus"
)

// Source yields queued action records. Pop returns (nil, nil) when its wait times out.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.RoomAction, error)
}

// SinkFunc persists one batch of records.
type SinkFunc func(ctx context.Context, recs []models.RoomAction) error

// Service accumulates records from a Source and flushes them to a sink,
// either when the batch is full or every flush interval.
type Service struct {
	source     Source
	sink       SinkFunc
	logger     *logrus.Logger
	batchSize  int
	flushDelay time.Duration
	popWait    time.Duration

	batchMu sync.Mutex
	batch   []models.RoomAction

	// lastActivity tracks the newest record time per room for the idle report
	lastActivity sync.Map
}

// NewService wires a Source to a sink.
func NewService(source Source, sink SinkFunc, batchSize int, flushDelay time.Duration, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	popWait := 3 * time.Second
	if flushDelay > 0 && flushDelay < popWait {
		popWait = flushDelay
	}
	return &Service{
		source:     source,
		sink:       sink,
		logger:     logger,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		popWait:    popWait,
		batch:      make([]models.RoomAction, 0, batchSize),
	}
}

// Run pops records until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.flushDelay > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.flushLoop(ctx)
		}()
	}

	s.logger.Info("historian started")
	defer func() {
		wg.Wait()
		// ctx is done here, the final flush gets its own deadline
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Flush(flushCtx)
		s.logger.Info("historian stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := s.source.Pop(ctx, s.popWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Error("pop action")
			// back off so a dead queue does not spin
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if rec == nil {
			continue
		}
		s.lastActivity.Store(rec.RoomID, time.Now())
		if s.append(*rec) {
			s.Flush(ctx)
		}
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// append adds rec and reports whether the batch is full.
func (s *Service) append(rec models.RoomAction) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch) >= s.batchSize
}

// Flush writes the pending batch. On failure the records are put back in
// front of anything queued since, so they are retried on the next flush.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.RoomAction, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.sink(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("count", len(pending)).Error("flush actions")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.logger.WithField("count", len(pending)).Debug("flushed actions")
}

// Pending is the number of records waiting for a flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// IdleRooms lists rooms with no action for longer than idle and forgets them.
func (s *Service) IdleRooms(now time.Time, idle time.Duration) []uuid.UUID {
	var out []uuid.UUID
	s.lastActivity.Range(func(key, val interface{}) bool {
		id, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if ok1 && ok2 && now.Sub(last) > idle {
			out = append(out, id)
			s.lastActivity.Delete(id)
		}
		return true
	})
	return out
}
