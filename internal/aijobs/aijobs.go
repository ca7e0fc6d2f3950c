// Package aijobs is the peripheral poller that drains the ai_jobs queue through a small worker
// pool, calling an external LLM for each job and recording its result (C10).
package aijobs

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgr0831/transcription-worker/internal/metrics"
	"github.com/kgr0831/transcription-worker/internal/store"
)

// JobStore is the subset of store.Gateway the poller needs.
type JobStore interface {
	ClaimNextAIJob(ctx context.Context) (*store.AIJob, error)
	CompleteAIJob(ctx context.Context, id uuid.UUID, result string) error
	FailAIJob(ctx context.Context, id uuid.UUID, reason string) error
}

// LLMClient runs one AI job's prompt against an external model and returns its result text.
// Prompt construction and model selection are out of scope for this worker; the interface
// boundary is deliberately thin.
type LLMClient interface {
	Run(ctx context.Context, job store.AIJob) (string, error)
}

// ErrNoJob names a momentarily empty queue. Poller does not return it: it detects an empty queue
// through store.ErrNotFound from ClaimNextAIJob.
var ErrNoJob = errors.New("aijobs: no pending job")

// Config tunes the poller.
type Config struct {
	PollInterval time.Duration
	Workers      int
}

// Poller repeatedly claims the next pending job and dispatches it to a fixed worker pool: a
// bounded task channel, N long-lived workers, and drop-on-full backpressure (here backpressure
// simply skips a poll tick and retries next time, since jobs are durable rows rather than
// ephemeral tasks).
type Poller struct {
	gw     JobStore
	llm    LLMClient
	cfg    Config
	tasks  chan store.AIJob

	ctx    context.Context
	cancel context.CancelFunc
	claimWG  sync.WaitGroup
	workerWG sync.WaitGroup

	log *log.Logger
}

// New constructs a Poller; call Start to begin polling and processing.
func New(gw JobStore, llm LLMClient, cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Poller{
		gw:    gw,
		llm:   llm,
		cfg:   cfg,
		tasks: make(chan store.AIJob, cfg.Workers*2),
		log:   log.New(os.Stdout, "[aijobs] ", log.LstdFlags),
	}
}

// Start launches the worker pool and the claim loop.
func (p *Poller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}

	p.claimWG.Add(1)
	go p.claimLoop()
}

func (p *Poller) claimLoop() {
	defer p.claimWG.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.claimAvailable()
		}
	}
}

// claimAvailable drains claimable jobs into the task queue until the queue is full or the
// store reports no more pending jobs.
func (p *Poller) claimAvailable() {
	for {
		// Only this loop sends on tasks, so free space seen here is still free at the send below;
		// checking before the claim keeps a claimed (running) job from being dropped.
		if len(p.tasks) == cap(p.tasks) {
			p.log.Printf("task queue full, will claim more jobs next tick")
			return
		}
		job, err := p.gw.ClaimNextAIJob(p.ctx)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				p.log.Printf("claim next job failed: %v", err)
			}
			return
		}
		select {
		case p.tasks <- *job:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Poller) worker(id int) {
	defer p.workerWG.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.tasks:
			if !ok {
				return
			}
			p.process(id, job)
		}
	}
}

func (p *Poller) process(workerID int, job store.AIJob) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Printf("worker %d panic processing job %s: %v", workerID, job.ID, r)
			metrics.AIJobsProcessed.WithLabelValues("failed").Inc()
			if err := p.gw.FailAIJob(p.ctx, job.ID, "internal error"); err != nil {
				p.log.Printf("failed to mark job %s failed after panic: %v", job.ID, err)
			}
		}
	}()

	result, err := p.llm.Run(p.ctx, job)
	if err != nil {
		p.log.Printf("job %s (%s) failed: %v", job.ID, job.JobType, err)
		metrics.AIJobsProcessed.WithLabelValues("failed").Inc()
		if ferr := p.gw.FailAIJob(p.ctx, job.ID, err.Error()); ferr != nil {
			p.log.Printf("failed to record failure for job %s: %v", job.ID, ferr)
		}
		return
	}

	if err := p.gw.CompleteAIJob(p.ctx, job.ID, result); err != nil {
		p.log.Printf("failed to record completion for job %s: %v", job.ID, err)
	}
	metrics.AIJobsProcessed.WithLabelValues("completed").Inc()
}

// Stop cancels the claim loop, waits for it to exit so no further sends race the queue close,
// then closes the task queue and waits for in-flight jobs to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.claimWG.Wait()
	close(p.tasks)
	p.workerWG.Wait()
}
