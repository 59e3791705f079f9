// Package jobs runs durable background work on Asynq: the reconciler
// tick, the orphan sweep, and exponential-backoff retries of failed
// Agent calls. Unlike an in-process ticker, a task surviving a Manager
// restart is retried instead of silently dropped.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names registered with the mux.
const (
	TypeReconcileTick  = "reconcile:tick"
	TypeOrphanSweep    = "reconcile:orphan_sweep"
	TypeAgentCallRetry = "agent:call_retry"
)

// Handler processes one task's payload.
type Handler func(ctx context.Context, payload []byte) error

// Runner wraps an Asynq client/server pair plus a scheduler for
// recurring tasks.
type Runner struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	redisOpt  asynq.RedisClientOpt
}

// New builds a Runner against the given Redis address. concurrency
// bounds the number of worker goroutines processing tasks concurrently.
func New(redisAddr string, concurrency int) *Runner {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("jobs: task %s failed: %v", task.Type(), err)
		}),
	})

	return &Runner{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		scheduler: asynq.NewScheduler(redisOpt, nil),
		redisOpt:  redisOpt,
	}
}

// Handle registers a handler for a task type. Its maxRetry and timeout
// arguments are not applied here; a task's retry ceiling and timeout are
// the ones given when it is enqueued (EnqueueNow).
func (r *Runner) Handle(taskType string, maxRetry int, timeout time.Duration, h Handler) {
	r.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, t.Payload())
	})
	_ = maxRetry
	_ = timeout
}

// EnqueueNow submits a one-shot task for immediate processing.
func (r *Runner) EnqueueNow(ctx context.Context, taskType string, payload any, maxRetry int, timeout time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}
	_, err = r.client.EnqueueContext(ctx, asynq.NewTask(taskType, data),
		asynq.MaxRetry(maxRetry), asynq.Timeout(timeout), asynq.Queue("default"))
	return err
}

// EnqueueRetry schedules a retry of a failed Agent call after backoff,
// on the critical queue so retries are not starved by routine reconcile work.
func (r *Runner) EnqueueRetry(ctx context.Context, payload any, after time.Duration, attempt int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}
	_, err = r.client.EnqueueContext(ctx, asynq.NewTask(TypeAgentCallRetry, data),
		asynq.ProcessIn(after), asynq.MaxRetry(5-attempt), asynq.Queue("critical"))
	return err
}

// ScheduleRecurring registers a cron-style recurring task (the
// reconciler tick and orphan sweep).
func (r *Runner) ScheduleRecurring(cronSpec, taskType string) error {
	_, err := r.scheduler.Register(cronSpec, asynq.NewTask(taskType, nil))
	return err
}

// Run starts the server and scheduler and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- r.server.Run(r.mux) }()
	go func() { errCh <- r.scheduler.Run() }()

	select {
	case <-ctx.Done():
		r.Shutdown()
		return nil
	case err := <-errCh:
		r.Shutdown()
		return err
	}
}

// Shutdown stops the server, scheduler, and client.
func (r *Runner) Shutdown() {
	r.server.Shutdown()
	r.scheduler.Shutdown()
	r.client.Close()
}
