// Package workerpool provides a bounded worker pool for controlled concurrency.
// Consumers use it to process broker records in parallel with backpressure.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("pool is shutting down")
	ErrQueueFull   = errors.New("task queue is full")
)

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context

	reply chan *Result
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Success  bool
	Error    error
	Data     interface{}
	Attempts int
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// PermanentError marks a failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that the pool does not retry the task
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int `yaml:"workers"`
	// QueueSize is the size of the task queue
	QueueSize int `yaml:"queue_size"`
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the base delay between retries, growing linearly per attempt
	RetryDelay time.Duration `yaml:"retry_delay"`
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns defaults for receipt processing
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	mu         sync.RWMutex
	stopped    bool
	taskChan   chan *Task
	resultChan chan *Result
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
	queueDepth     int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		resultChan: make(chan *Result, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit adds a task to the queue without blocking
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitBlocking waits for queue space until ctx is done
func (p *Pool) SubmitBlocking(ctx context.Context, task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		atomic.AddInt64(&p.queueDepth, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitWait adds a task and waits for its own result
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	task.reply = make(chan *Result, 1)
	if err := p.SubmitBlocking(ctx, task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-task.reply:
		return result, nil
	}
}

// Results returns the result channel for tasks submitted without waiting
func (p *Pool) Results() <-chan *Result {
	return p.resultChan
}

// Stop gracefully shuts down the pool, letting queued tasks finish
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.taskChan)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.cancel()
		<-done
		err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
		p.logger.Warn("worker pool shutdown timed out")
	}
	p.cancel()

	close(p.resultChan)
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		p.deliver(task, p.processTask(id, task))
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// processTask handles a single task with retries
func (p *Pool) processTask(workerID int, task *Task) *Result {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return p.finish(workerID, task, &Result{TaskID: task.ID, Error: err, Attempts: attempt})
		}

		result := p.workerFunc(ctx, task)
		result.TaskID = task.ID
		result.Attempts = attempt + 1
		if result.Success {
			return p.finish(workerID, task, result)
		}

		lastErr = result.Error
		var permanent *PermanentError
		if errors.As(lastErr, &permanent) {
			return p.finish(workerID, task, result)
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.tasksRetried, 1)
			p.logger.Debug("retrying task",
				zap.String("task_id", task.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return p.finish(workerID, task, &Result{TaskID: task.ID, Error: ctx.Err(), Attempts: attempt + 1})
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			}
		}
	}

	return p.finish(workerID, task, &Result{
		TaskID:   task.ID,
		Error:    fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr),
		Attempts: p.config.MaxRetries + 1,
	})
}

func (p *Pool) finish(workerID int, task *Task, result *Result) *Result {
	if result.Success {
		atomic.AddInt64(&p.tasksCompleted, 1)
		return result
	}
	atomic.AddInt64(&p.tasksFailed, 1)
	p.logger.Error("task failed",
		zap.String("task_id", task.ID),
		zap.Int("worker_id", workerID),
		zap.Int("attempts", result.Attempts),
		zap.Error(result.Error))
	return result
}

func (p *Pool) deliver(task *Task, result *Result) {
	if task.reply != nil {
		task.reply <- result
		return
	}
	select {
	case p.resultChan <- result:
	default:
		p.logger.Warn("result channel full, dropping result",
			zap.String("task_id", task.ID))
	}
}

// Stats holds pool counters
type Stats struct {
	TasksSubmitted int64 `json:"tasks_submitted"`
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksRetried   int64 `json:"tasks_retried"`
	ActiveWorkers  int64 `json:"active_workers"`
	QueueDepth     int64 `json:"queue_depth"`
	QueueCapacity  int   `json:"queue_capacity"`
	Workers        int   `json:"workers"`
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy returns true if the queue is not backing up
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
