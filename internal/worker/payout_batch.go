package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

const TypePayoutBatch = "payout:batch"

// PayoutBatchPayload names the cycle to settle. At pins the run time for
// manual reruns of a past period; scheduled runs leave it empty.
type PayoutBatchPayload struct {
	Cycle model.PayoutCycle `json:"cycle"`
	At    *time.Time        `json:"at,omitempty"`
}

func NewPayoutBatchTask(cycle model.PayoutCycle, at *time.Time, opts ...asynq.Option) (*asynq.Task, error) {
	b, err := json.Marshal(PayoutBatchPayload{Cycle: cycle, At: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePayoutBatch, b, opts...), nil
}

// Batcher is implemented by the payout service.
type Batcher interface {
	RunBatch(ctx context.Context, cycle model.PayoutCycle, now time.Time) (*model.PayoutBatchResult, error)
}

type PayoutBatchHandler struct {
	batcher Batcher
	logger  *logger.Logger
	now     func() time.Time
}

func NewPayoutBatchHandler(batcher Batcher, log *logger.Logger) *PayoutBatchHandler {
	return &PayoutBatchHandler{batcher: batcher, logger: log, now: time.Now}
}

func (h *PayoutBatchHandler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypePayoutBatch, h)
}

// ProcessTask runs one batch. Malformed payloads are not retried; batch
// errors are, since CreatePayout skips entries an earlier attempt claimed.
func (h *PayoutBatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PayoutBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payout batch payload: %v: %w", err, asynq.SkipRetry)
	}
	if !p.Cycle.Valid() {
		return fmt.Errorf("unknown payout cycle %q: %w", p.Cycle, asynq.SkipRetry)
	}

	now := h.now()
	if p.At != nil {
		now = *p.At
	}

	result, err := h.batcher.RunBatch(ctx, p.Cycle, now)
	if err != nil {
		h.logger.Error(err, "Payout batch failed", "cycle", string(p.Cycle))
		return err
	}
	if result.Failed > 0 {
		// Retrying would only repeat the doctors that failed.
		h.logger.Warn("Payout batch finished with failures",
			"cycle", string(p.Cycle), "failed", result.Failed, "created", len(result.Created))
	}
	return nil
}

type SchedulerConfig struct {
	Cron  string
	Cycle model.PayoutCycle
	Queue string
}

// NewScheduler registers the periodic payout batch task.
func NewScheduler(redis asynq.RedisConnOpt, cfg SchedulerConfig, log *logger.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   NewAsynqLogger(log),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Error(err, "Failed to enqueue payout batch")
				return
			}
			log.Info("Payout batch enqueued", "task_id", info.ID, "queue", info.Queue)
		},
	})

	task, err := NewPayoutBatchTask(cfg.Cycle, nil)
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(cfg.Cron, task, asynq.Queue(cfg.Queue), asynq.MaxRetry(3)); err != nil {
		return nil, fmt.Errorf("failed to register payout batch schedule: %w", err)
	}
	return scheduler, nil
}

type ServerConfig struct {
	Queue       string
	Concurrency int
}

func NewServer(redis asynq.RedisConnOpt, cfg ServerConfig, log *logger.Logger) *asynq.Server {
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 1,
		},
		Logger: NewAsynqLogger(log),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error(err, "Task failed", "type", task.Type())
		}),
	})
}

// asynqLogger adapts the application logger to asynq.Logger.
type asynqLogger struct {
	l *logger.Logger
}

func NewAsynqLogger(l *logger.Logger) asynq.Logger {
	return &asynqLogger{l: l.WithFields(map[string]interface{}{"component": "asynq"})}
}

func (a *asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...interface{}) { a.l.Error(nil, fmt.Sprint(args...)) }
func (a *asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(nil, fmt.Sprint(args...)) }
