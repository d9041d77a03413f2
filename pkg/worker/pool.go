// Package worker provides an asynchronous worker pool that runs fact
// extraction off the reply path.
//
// The pool decouples extraction from message handling so that a slow or
// failing completion model never delays a reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/chatty/pkg/extract"
	"github.com/papercomputeco/chatty/pkg/memory"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 60 * time.Second
)

// Extractor commits facts distilled from recent turns.
type Extractor interface {
	ExtractAndCommit(ctx context.Context, recentTurns []memory.Record, userID, platform string) (extract.Result, error)
}

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	UserID   string
	Platform string

	// Turns are the recent turns to extract from, oldest first.
	Turns []memory.Record
}

// Config is the configuration options for the worker pool.
type Config struct {
	Extractor Extractor

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of each worker's buffered job channel
	// (defaults to 256).
	QueueSize uint

	// Timeout bounds a single extraction (defaults to 60s).
	Timeout time.Duration

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes extraction jobs asynchronously via a worker pool.
// Every job for a user lands on the same worker, so one user's extractions
// commit in the order they were enqueued.
type Pool struct {
	config *Config
	queues []chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Extractor == nil {
		return nil, errors.New("worker pool requires an extractor")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultJobTimeout
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queues: make([]chan Job, c.NumWorkers),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		wp.queues[i] = make(chan Job, c.QueueSize)
		go wp.worker(i, wp.queues[i])
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queues[p.shard(job.UserID)] <- job:
		p.logger.Debug("job queued",
			zap.String("user_id", job.UserID),
			zap.Int("turns", len(job.Turns)),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("user_id", job.UserID),
			zap.String("platform", job.Platform),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after every producer has stopped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}

// shard picks the worker that owns userID.
func (p *Pool) shard(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// worker is the inner worker thread that continuously pulls jobs off its queue
func (p *Pool) worker(id uint, queue <-chan Job) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range queue {
		p.processJob(job)
	}

	p.logger.Debug("extraction worker stopped", zap.Uint("worker_id", id))
}

// processJob runs one extraction under its own deadline. Failures are logged
// and never retried.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	res, err := p.config.Extractor.ExtractAndCommit(ctx, job.Turns, job.UserID, job.Platform)
	if err != nil {
		p.logger.Error("fact extraction failed",
			zap.String("user_id", job.UserID),
			zap.Error(err),
		)
		return
	}

	if err := res.Err(); err != nil {
		p.logger.Warn("fact extraction partially malformed",
			zap.String("user_id", job.UserID),
			zap.Error(err),
		)
	}

	p.logger.Info("facts extracted",
		zap.String("user_id", job.UserID),
		zap.Int("committed", res.Committed),
		zap.Int("unchanged", res.Unchanged),
	)
}
