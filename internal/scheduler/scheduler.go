// Package scheduler drives chapter processing order: chapters within a work
// run strictly serialized by ordinal, works run in parallel across a bounded
// worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/store"
)

// basePriority is the default chapter job priority. Retries re-enter at the
// same priority and fall behind fresh work of the same level only by FIFO
// order.
const basePriority = 10

// Runner processes one chapter to completion. The chapter pipeline satisfies
// this through a thin adapter.
type Runner interface {
	ProcessChapter(ctx context.Context, chapterID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, chapterID string) error

func (f RunnerFunc) ProcessChapter(ctx context.Context, chapterID string) error {
	return f(ctx, chapterID)
}

// WorkStatus is the scheduler's projection of one work.
type WorkStatus struct {
	WorkID string             `json:"work_id"`
	Status model.WorkStatus   `json:"status"`
	Jobs   []model.ChapterJob `json:"jobs"`
}

// Scheduler owns the per-chapter job state machine.
type Scheduler struct {
	st     store.Store
	run    Runner
	q      *queue
	logger *slog.Logger
	now    func() time.Time

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a scheduler.
func New(st store.Store, run Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		st:     st,
		run:    run,
		q:      newQueue(),
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// IngestWork creates the chapter jobs for a freshly ingested work. The first
// chapter is queued immediately; every later chapter waits for its
// predecessor.
func (s *Scheduler) IngestWork(ctx context.Context, work model.Work, chapters []model.Chapter) ([]model.ChapterJob, error) {
	jobs := make([]model.ChapterJob, 0, len(chapters))
	for _, c := range chapters {
		job := model.ChapterJob{
			ID:        uuid.NewString(),
			WorkID:    work.ID,
			Ordinal:   c.Ordinal,
			Priority:  basePriority,
			CreatedAt: s.now(),
		}
		if c.Ordinal == 1 {
			job.Status = model.JobQueued
		} else {
			job.Status = model.JobWaitingForPrevious
			prereq := c.Ordinal - 1
			job.Prerequisite = &prereq
		}
		if err := s.st.Jobs().Upsert(ctx, job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	for _, c := range chapters {
		if c.Ordinal == 1 {
			s.q.Push(item{WorkID: work.ID, ChapterID: c.ID, Ordinal: 1, Priority: basePriority})
		}
	}
	s.logger.Info("work ingested", "work", work.ID, "chapters", len(chapters))
	return jobs, nil
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		s.group.Go(func() error {
			s.workerLoop(ctx)
			return nil
		})
	}
	s.logger.Info("scheduler started", "workers", workers)
}

// Stop cancels the workers and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	for {
		it, ok := s.q.Pop(ctx.Done())
		if !ok {
			return
		}
		if !s.claim(ctx, it) {
			continue
		}
		err := s.run.ProcessChapter(ctx, it.ChapterID)
		// The pipeline notifies ChapterDone itself; this fallback covers
		// runners that returned before reaching the notification.
		s.settle(ctx, it.WorkID, it.Ordinal, err)
	}
}

// claim moves a popped job from queued to running. A job that is no longer
// queued (retried twice, cancelled) is skipped.
func (s *Scheduler) claim(ctx context.Context, it item) bool {
	job, err := s.findJob(ctx, it.WorkID, it.Ordinal)
	if err != nil || job.Status != model.JobQueued {
		return false
	}
	started := s.now()
	job.Status = model.JobRunning
	job.StartedAt = &started
	if err := s.st.Jobs().Upsert(ctx, *job); err != nil {
		s.logger.Error("failed to claim job", "work", it.WorkID, "ordinal", it.Ordinal, "error", err)
		return false
	}
	s.syncWorkStatus(ctx, it.WorkID)
	return true
}

// ChapterDone implements the pipeline's notifier. It finalizes the running
// job and, on success, promotes the successor chapter.
func (s *Scheduler) ChapterDone(ctx context.Context, workID string, ordinal int, status model.ChapterStatus) {
	switch status {
	case model.ChapterStatusCompleted:
		s.finish(ctx, workID, ordinal, "")
	case model.ChapterStatusFailed:
		s.finish(ctx, workID, ordinal, s.chapterError(ctx, workID, ordinal))
	}
}

// settle finalizes a job the runner left in running state.
func (s *Scheduler) settle(ctx context.Context, workID string, ordinal int, runErr error) {
	job, err := s.findJob(ctx, workID, ordinal)
	if err != nil || job.Status != model.JobRunning {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	s.finish(ctx, workID, ordinal, msg)
}

// finish transitions a running job to completed or failed, promotes the
// successor on success and reprojects the work status. A failed chapter
// halts every successor.
func (s *Scheduler) finish(ctx context.Context, workID string, ordinal int, errMsg string) {
	job, err := s.findJob(ctx, workID, ordinal)
	if err != nil || job.Status != model.JobRunning {
		return
	}

	done := s.now()
	if errMsg == "" {
		job.Status = model.JobCompleted
		job.CompletedAt = &done
	} else {
		job.Status = model.JobFailed
		job.LastError = errMsg
	}
	if err := s.st.Jobs().Upsert(ctx, *job); err != nil {
		s.logger.Error("failed to finalize job", "work", workID, "ordinal", ordinal, "error", err)
		return
	}

	if job.Status == model.JobCompleted {
		s.promoteSuccessor(ctx, workID, ordinal+1)
	}
	s.syncWorkStatus(ctx, workID)
}

// promoteSuccessor moves the next chapter from waiting-for-previous to
// queued and pushes it onto the run queue.
func (s *Scheduler) promoteSuccessor(ctx context.Context, workID string, ordinal int) {
	job, err := s.findJob(ctx, workID, ordinal)
	if err != nil || job.Status != model.JobWaitingForPrevious {
		return
	}
	job.Status = model.JobQueued
	if err := s.st.Jobs().Upsert(ctx, *job); err != nil {
		s.logger.Error("failed to queue successor", "work", workID, "ordinal", ordinal, "error", err)
		return
	}
	chapterID, err := s.chapterID(ctx, workID, ordinal)
	if err != nil {
		s.logger.Error("successor chapter missing", "work", workID, "ordinal", ordinal, "error", err)
		return
	}
	s.q.Push(item{WorkID: workID, ChapterID: chapterID, Ordinal: ordinal, Priority: job.Priority})
}

// Retry requeues a failed chapter, clearing its previous run's timestamps
// and error.
func (s *Scheduler) Retry(ctx context.Context, workID string, ordinal int) error {
	job, err := s.findJob(ctx, workID, ordinal)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobFailed:
	case model.JobCompleted:
		return apperr.AlreadyCompleted(fmt.Sprintf("chapter %d of work %s", ordinal, workID))
	default:
		return apperr.PrerequisiteNotMet(fmt.Sprintf("chapter %d of work %s is %s, only failed chapters can be retried", ordinal, workID, job.Status))
	}

	job.Status = model.JobQueued
	job.StartedAt = nil
	job.CompletedAt = nil
	job.LastError = ""
	if err := s.st.Jobs().Upsert(ctx, *job); err != nil {
		return err
	}

	chapterID, err := s.chapterID(ctx, workID, ordinal)
	if err != nil {
		return err
	}
	s.q.Push(item{WorkID: workID, ChapterID: chapterID, Ordinal: ordinal, Priority: job.Priority})
	s.syncWorkStatus(ctx, workID)
	s.logger.Info("chapter requeued", "work", workID, "ordinal", ordinal)
	return nil
}

// Status returns the scheduler's projection of one work.
func (s *Scheduler) Status(ctx context.Context, workID string) (*WorkStatus, error) {
	work, err := s.st.Works().Get(ctx, workID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.st.Jobs().List(ctx, store.JobFilter{WorkID: workID})
	if err != nil {
		return nil, err
	}
	return &WorkStatus{WorkID: workID, Status: work.Status, Jobs: jobs}, nil
}

// syncWorkStatus reprojects the work status from its chapter jobs: completed
// when all chapters completed, failed when any failed with nothing running,
// in-progress while anything runs or waits its turn.
func (s *Scheduler) syncWorkStatus(ctx context.Context, workID string) {
	work, err := s.st.Works().Get(ctx, workID)
	if err != nil {
		s.logger.Error("work missing during status sync", "work", workID, "error", err)
		return
	}
	jobs, err := s.st.Jobs().List(ctx, store.JobFilter{WorkID: workID})
	if err != nil || len(jobs) == 0 {
		return
	}

	var running, failed, active int
	completed := 0
	for _, j := range jobs {
		switch j.Status {
		case model.JobRunning:
			running++
		case model.JobFailed:
			failed++
		case model.JobCompleted:
			completed++
		case model.JobQueued, model.JobWaitingForPrevious:
			active++
		}
	}

	var status model.WorkStatus
	switch {
	case completed == len(jobs):
		status = model.WorkStatusCompleted
	case failed > 0 && running == 0:
		status = model.WorkStatusFailed
	case running > 0 || active > 0:
		status = model.WorkStatusInProgress
	default:
		status = work.Status
	}

	if status == work.Status {
		return
	}
	work.Status = status
	work.UpdatedAt = s.now()
	if err := s.st.Works().Upsert(ctx, *work); err != nil {
		s.logger.Error("failed to update work status", "work", workID, "error", err)
	}
}

func (s *Scheduler) findJob(ctx context.Context, workID string, ordinal int) (*model.ChapterJob, error) {
	jobs, err := s.st.Jobs().List(ctx, store.JobFilter{WorkID: workID})
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].Ordinal == ordinal {
			return &jobs[i], nil
		}
	}
	return nil, apperr.NotFound("chapter job", fmt.Sprintf("%s/%d", workID, ordinal))
}

func (s *Scheduler) chapterID(ctx context.Context, workID string, ordinal int) (string, error) {
	chapters, err := s.st.Chapters().List(ctx, store.ChapterFilter{WorkID: workID})
	if err != nil {
		return "", err
	}
	for _, c := range chapters {
		if c.Ordinal == ordinal {
			return c.ID, nil
		}
	}
	return "", apperr.NotFound("chapter", fmt.Sprintf("%s/%d", workID, ordinal))
}

func (s *Scheduler) chapterError(ctx context.Context, workID string, ordinal int) string {
	chapters, err := s.st.Chapters().List(ctx, store.ChapterFilter{WorkID: workID})
	if err != nil {
		return "chapter processing failed"
	}
	for _, c := range chapters {
		if c.Ordinal == ordinal && c.Error != "" {
			return c.Error
		}
	}
	return "chapter processing failed"
}
