package scheduler

import (
	"context"
	"fmt"
	"time"

	"leadengine/platform/config"
	"leadengine/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes queued lead events and hands them to the engine.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler EventHandler
	log     *logger.Logger
	now     func() time.Time
}

func NewWorker(cfg config.SchedulerConfig, handler EventHandler, log *logger.Logger) (*Worker, error) {
	opt, err := redisConnOpt(cfg.GetSchedulerRedisURL())
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			queueName: 1,
		},
		Logger: asynqLogger{log},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		handler: handler,
		log:     log,
		now:     time.Now,
	}

	mux.HandleFunc(TaskFollowUpDue, w.handleEvent)
	mux.HandleFunc(TaskRetryUnanswered, w.handleEvent)

	return w, nil
}

func (w *Worker) handleEvent(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseEventPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	out, err := w.handler.HandleEvent(ctx, payload.Event(w.now()))
	if err != nil {
		return err
	}
	w.log.Debug("scheduler: queued event handled",
		"lead_id", payload.LeadID,
		"event_id", payload.EventID,
		"kind", payload.Kind,
		"sent", out.Sent,
	)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler: worker stopped", "error", err)
	}
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Error(fmt.Sprint(args...), "component", "asynq") }
