package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/database"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	configCache  *feed.ConfigCache
	feedCache    *cache.FeedCache
	tags         *cache.TagSet
	source       ContentSource
	renderer     *feed.Renderer
	snapshotRepo database.SnapshotRepository
	ring         *diag.Ring
	interval     time.Duration
	workerCount  int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan TaskInterface

	mu         sync.Mutex
	started    bool
	stopped    bool
	lastTickAt *time.Time
}

func NewScheduler(configCache *feed.ConfigCache, feedCache *cache.FeedCache, tags *cache.TagSet,
	source ContentSource, renderer *feed.Renderer, snapshotRepo database.SnapshotRepository, ring *diag.Ring) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		configCache:  configCache,
		feedCache:    feedCache,
		tags:         tags,
		source:       source,
		renderer:     renderer,
		snapshotRepo: snapshotRepo,
		ring:         ring,
		interval:     time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount:  cfg.WorkerCount,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan TaskInterface, 300),
	}
}

// Start launches the worker pool and the ticker loop. Calling it again is
// a no-op: only one set of workers and one timer ever exist.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueDueTasks()
			}
		}
	}()
}

// Stop cancels the ticker so no further refresh fires, then waits for
// in-flight tasks to finish. Stopping twice is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	s.mu.Unlock()

	s.cancel()
	if wasStarted {
		s.wg.Wait()
	}
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueRefresh queues an on-demand refresh for a feed by name.
func (s *Scheduler) EnqueueRefresh(feedName string) error {
	feedConfig, err := s.configCache.GetConfig(feedName)
	if err != nil {
		return err
	}
	return s.EnqueueTask(s.newRefreshTask(feedConfig))
}

func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		Started:     s.started && !s.stopped,
		Interval:    s.interval.String(),
		Workers:     s.workerCount,
		QueueLength: len(s.taskQueue),
		LastTickAt:  s.lastTickAt,
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	feedConfigs := s.configCache.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed definitions found")
		return
	}

	slog.Debug("Enqueueing startup refreshes", "count", len(feedConfigs))

	for _, feedConfig := range feedConfigs {
		if err := s.EnqueueTask(s.newRefreshTask(feedConfig)); err != nil {
			slog.Warn("Failed to enqueue RefreshFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueDueTasks() {
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastTickAt = &now
	s.mu.Unlock()

	feedConfigs := s.configCache.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed definitions found")
		return
	}

	for _, feedConfig := range feedConfigs {
		refreshInterval := time.Duration(feedConfig.Settings.RefreshInterval) * time.Second
		if !s.feedCache.IsDue(feedConfig.Name, refreshInterval) &&
			!s.feedCache.StaleByTags(feedConfig.Name, s.tags, feedConfig.Tags) {
			slog.Debug("Feed not due for refresh yet", "feed", feedConfig.Name)
			continue
		}

		if err := s.EnqueueTask(s.newRefreshTask(feedConfig)); err != nil {
			slog.Warn("Failed to enqueue RefreshFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) newRefreshTask(feedConfig *feed.Config) *RefreshFeedTask {
	return NewRefreshFeedTask(feedConfig.Name, feedConfig, s.source, s.renderer, s.feedCache, s.snapshotRepo, s.ring)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
