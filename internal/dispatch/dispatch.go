// Package dispatch implements the claim loop and worker pool that turn
// queued pipeline_jobs rows into processed segments: at-most-once
// claiming, attempt counting, stale-lease recovery on startup, and
// graceful restart after a bounded number of jobs, grounded on the
// source worker's run_once/run_forever daemon loop.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chapterbridge/nlp-pack-worker/internal/config"
	"github.com/chapterbridge/nlp-pack-worker/internal/database"
	"github.com/chapterbridge/nlp-pack-worker/internal/httpserver"
	"github.com/chapterbridge/nlp-pack-worker/internal/models"
	"github.com/chapterbridge/nlp-pack-worker/internal/processor"
)

// EventPublisher is the job-lifecycle notification sink. It is
// optional: a nil EventPublisher disables publishing entirely.
type EventPublisher interface {
	JobCompleted(ctx context.Context, job *models.PipelineJob, output *models.OutputDoc) error
	JobFailed(ctx context.Context, job *models.PipelineJob, errMsg string) error
}

// Dispatcher claims jobs from the catalogue and hands each to a
// Processor. The claim step is serialized by claimMu so that
// concurrent workers never issue interleaved reads against the store,
// matching the single process-local mutex the claim protocol allows.
type Dispatcher struct {
	jobs      *database.PipelineJobRepository
	processor *processor.Processor
	events    EventPublisher
	cfg       *config.Config
	counters  *httpserver.Counters

	claimMu    sync.Mutex
	jobsRun    int64
	restartHit int32
}

func New(jobs *database.PipelineJobRepository, proc *processor.Processor, events EventPublisher, cfg *config.Config, counters *httpserver.Counters) *Dispatcher {
	return &Dispatcher{jobs: jobs, processor: proc, events: events, cfg: cfg, counters: counters}
}

// RecoverStaleLeases scans for jobs stuck in running past
// JOB_TIMEOUT_MINUTES and fails them so they stop holding an implicit
// lease. It should run once at daemon startup, before the worker pool
// begins claiming.
func (d *Dispatcher) RecoverStaleLeases(ctx context.Context) error {
	n, err := d.jobs.ResetStaleJobs(ctx, d.cfg.JobTimeoutMinutes, d.cfg.MaxRetriesPerJob)
	if err != nil {
		return fmt.Errorf("recover stale leases: %w", err)
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("reset stale running jobs on startup")
	}
	return nil
}

// Run starts NumWorkers goroutines that each claim and process jobs
// until the process-wide job count reaches MaxJobsPerRestart or ctx is
// canceled, whichever comes first. It blocks until every worker has
// exited, then returns nil so the caller can exit cleanly for a
// supervisor to restart it.
func (d *Dispatcher) Run(ctx context.Context) error {
	numWorkers := d.cfg.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.Info().Int("workers", numWorkers).Dur("poll_interval", d.cfg.PollSeconds).
		Int("max_jobs_per_restart", d.cfg.MaxJobsPerRestart).Msg("starting dispatch worker pool")

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			d.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&d.restartHit) == 1 {
		log.Info().Int64("jobs_processed", atomic.LoadInt64(&d.jobsRun)).
			Msg("graceful restart threshold reached, exiting for supervisor restart")
	}
	return nil
}

// RunJob processes a single already-fetched job directly, bypassing
// the claim queue and the attempt cap, and finalizes it as success or
// failed. Nothing in this module calls it; the worker binary's
// --segment-id mode calls Processor.ProcessDryRun instead.
func (d *Dispatcher) RunJob(ctx context.Context, job *models.PipelineJob) (*models.OutputDoc, error) {
	output, err := d.processor.Process(ctx, job)
	if err != nil {
		if setErr := d.jobs.SetFailed(ctx, job.ID, err.Error()); setErr != nil {
			log.Error().Err(setErr).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		}
		d.publishFailed(ctx, job, err.Error())
		return nil, err
	}
	if setErr := d.jobs.SetSuccess(ctx, job.ID, output); setErr != nil {
		return output, fmt.Errorf("record job success: %w", setErr)
	}
	d.publishCompleted(ctx, job, output)
	return output, nil
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if d.cfg.MaxJobsPerRestart > 0 && atomic.LoadInt64(&d.jobsRun) >= int64(d.cfg.MaxJobsPerRestart) {
			atomic.StoreInt32(&d.restartHit, 1)
			return
		}

		processed, err := d.runOnce(ctx)
		if err != nil {
			log.Error().Err(err).Int("worker", workerID).Msg("unexpected error in dispatch loop")
			sleepOrDone(ctx, d.cfg.PollSeconds)
			continue
		}
		if !processed {
			sleepOrDone(ctx, d.cfg.PollSeconds)
			continue
		}
		atomic.AddInt64(&d.jobsRun, 1)
	}
}

// runOnce claims and fully processes a single job, mirroring the
// source daemon's run_once. It returns (false, nil) when the queue is
// empty and (true, nil) whenever a job was claimed, regardless of
// whether that job ultimately succeeded or failed.
func (d *Dispatcher) runOnce(ctx context.Context) (bool, error) {
	job, err := d.claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	over, err := d.jobs.FailIfOverAttemptCap(ctx, job, d.cfg.MaxRetriesPerJob)
	if err != nil {
		return true, fmt.Errorf("check attempt cap for job %s: %w", job.ID, err)
	}
	if over {
		log.Warn().Str("job_id", job.ID.String()).Int("attempt", job.Attempt).
			Msg("job exceeded max retries, marked failed without processing")
		d.publishFailed(ctx, job, "Exceeded max retries")
		return true, nil
	}

	d.runJob(ctx, job)
	return true, nil
}

// claim serializes the select-next/mark-running critical section
// across this process's workers.
func (d *Dispatcher) claim(ctx context.Context) (*models.PipelineJob, error) {
	d.claimMu.Lock()
	defer d.claimMu.Unlock()

	job, err := d.jobs.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job *models.PipelineJob) {
	log.Info().Str("job_id", job.ID.String()).Str("segment_id", job.SegmentID.String()).
		Int("attempt", job.Attempt).Msg("processing job")

	if d.counters != nil {
		d.counters.IncProcessed()
	}

	output, err := d.processor.Process(ctx, job)
	if err != nil {
		errMsg := err.Error()
		if setErr := d.jobs.SetFailed(ctx, job.ID, errMsg); setErr != nil {
			log.Error().Err(setErr).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		}
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("job failed")
		if d.counters != nil {
			d.counters.IncFailed()
		}
		d.publishFailed(ctx, job, errMsg)
		return
	}

	if setErr := d.jobs.SetSuccess(ctx, job.ID, output); setErr != nil {
		log.Error().Err(setErr).Str("job_id", job.ID.String()).Msg("failed to record job success")
		return
	}
	log.Info().Str("job_id", job.ID.String()).Bool("skipped", output.Skipped).Msg("job completed successfully")
	if d.counters != nil {
		d.counters.IncSucceeded()
	}
	d.publishCompleted(ctx, job, output)
}

func (d *Dispatcher) publishCompleted(ctx context.Context, job *models.PipelineJob, output *models.OutputDoc) {
	if d.events == nil {
		return
	}
	if err := d.events.JobCompleted(ctx, job, output); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to publish job.completed event")
	}
}

func (d *Dispatcher) publishFailed(ctx context.Context, job *models.PipelineJob, errMsg string) {
	if d.events == nil {
		return
	}
	if err := d.events.JobFailed(ctx, job, errMsg); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to publish job.failed event")
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
