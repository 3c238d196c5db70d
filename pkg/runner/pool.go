package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/metrics"
	"github.com/jitbridge/jitbridge/pkg/types"
)

// ErrShuttingDown is returned by Submit after Shutdown has begun
var ErrShuttingDown = errors.New("worker pool shutting down")

// Config holds worker pool settings
type Config struct {
	Capacity  int           // Concurrent job ceiling
	Timeout   time.Duration // Default per-job deadline
	Command   string        // External activation program
	Args      []string      // Arguments; {udid} and {address} are substituted
	KillGrace time.Duration // Wait after kill before abandoning the process

	// Preflight gates job execution. It runs inside the job's deadline
	// before the worker command starts; a non-nil error fails the job.
	Preflight func(ctx context.Context, job *types.Job) error

	// OnSaturated is invoked when a submission has to queue because every
	// slot is busy
	OnSaturated func(job *types.Job)
}

// Handle references one submitted job
type Handle struct {
	JobID string

	once   sync.Once
	done   chan struct{}
	result types.JobResult
}

// Done is closed when the job has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result is valid once Done is closed
func (h *Handle) Result() types.JobResult {
	return h.result
}

// finish delivers the result exactly once
func (h *Handle) finish(result types.JobResult) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

type entry struct {
	job    *types.Job
	handle *Handle
	cancel context.CancelFunc // Set while the job is running
}

// Pool runs activation jobs as isolated external processes with a fixed
// concurrency ceiling. Excess jobs queue FIFO. Every job's slot is released
// exactly once no matter how the process ends.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*entry
	running map[string]*entry
	stopped bool

	wg sync.WaitGroup
}

// NewPool creates a worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	p := &Pool{
		cfg:     cfg,
		running: make(map[string]*entry),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the execution slots
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Capacity; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logger := log.WithComponent("runner")
	logger.Info().
		Int("capacity", p.cfg.Capacity).
		Dur("timeout", p.cfg.Timeout).
		Msg("worker pool started")
}

// Submit enqueues a job and returns immediately with its handle
func (p *Pool) Submit(job *types.Job) (*Handle, error) {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if job.Timeout <= 0 {
		job.Timeout = p.cfg.Timeout
	}

	h := &Handle{JobID: job.ID, done: make(chan struct{})}
	p.queue = append(p.queue, &entry{job: job, handle: h})
	p.cond.Signal()

	metrics.JobsSubmitted.Inc()
	metrics.QueueDepth.Set(float64(len(p.queue)))
	saturated := len(p.running) >= p.cfg.Capacity
	p.mu.Unlock()

	if saturated {
		metrics.PoolSaturated.Inc()
		if p.cfg.OnSaturated != nil {
			p.cfg.OnSaturated(job)
		}
	}
	return h, nil
}

// Await blocks until the job finishes or the context ends
func (p *Pool) Await(ctx context.Context, h *Handle) (types.JobResult, error) {
	select {
	case <-h.Done():
		return h.Result(), nil
	case <-ctx.Done():
		return types.JobResult{}, ctx.Err()
	}
}

// QueuePosition returns how many jobs run or wait ahead of the given job.
// 0 means running, -1 means unknown (finished or never submitted).
func (p *Pool) QueuePosition(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.running[jobID]; ok {
		return 0
	}
	for i, e := range p.queue {
		if e.job.ID == jobID {
			return i + 1
		}
	}
	return -1
}

// RunningCount returns the number of jobs currently executing
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// QueueDepth returns the number of jobs waiting for a slot
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown cancels queued jobs, signals running ones to terminate, and
// waits for the slots to drain
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	queued := p.queue
	p.queue = nil
	for _, e := range p.running {
		if e.cancel != nil {
			e.cancel()
		}
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, e := range queued {
		e.handle.finish(types.JobResult{
			JobID:   e.job.ID,
			UDID:    e.job.UDID,
			Outcome: types.OutcomeCancelled,
			Error:   "pool shutdown before job started",
		})
	}

	p.wg.Wait()
	logger := log.WithComponent("runner")
	logger.Info().Msg("worker pool stopped")
}

// worker pulls jobs in arrival order, one at a time
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		e := p.next()
		if e == nil {
			return
		}
		p.execute(e)
	}
}

func (p *Pool) next() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return nil
	}
	e := p.queue[0]
	p.queue = p.queue[1:]
	p.running[e.job.ID] = e

	metrics.QueueDepth.Set(float64(len(p.queue)))
	metrics.RunningJobs.Set(float64(len(p.running)))
	return e
}

func (p *Pool) execute(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), e.job.Timeout)
	p.mu.Lock()
	e.cancel = cancel
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		// Shutdown ran between next() and here, so its cancel sweep could
		// not see this entry yet
		cancel()
	}
	defer cancel()

	logger := log.WithJobID(e.job.ID)
	logger.Debug().Str("udid", e.job.UDID).Msg("job started")

	start := time.Now()
	result := p.runCommand(ctx, e.job)
	result.Duration = time.Since(start)

	p.mu.Lock()
	delete(p.running, e.job.ID)
	metrics.RunningJobs.Set(float64(len(p.running)))
	p.mu.Unlock()

	metrics.JobsFinished.WithLabelValues(string(result.Outcome)).Inc()
	metrics.JobDuration.Observe(result.Duration.Seconds())

	if result.Outcome == types.OutcomeSucceeded {
		logger.Info().Dur("duration", result.Duration).Msg("job succeeded")
	} else {
		logger.Warn().
			Str("outcome", string(result.Outcome)).
			Str("error", result.Error).
			Dur("duration", result.Duration).
			Msg("job did not succeed")
	}

	e.handle.finish(result)
}

// tail returns the last n bytes of buf as a trimmed string
func tail(buf []byte, n int) string {
	if len(buf) > n {
		buf = buf[len(buf)-n:]
	}
	return string(buf)
}

func workerError(err error, stderr []byte) string {
	if detail := tail(stderr, 512); detail != "" {
		return detail
	}
	return fmt.Sprintf("worker exited: %v", err)
}
