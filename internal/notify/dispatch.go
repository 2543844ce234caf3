package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"qms/qalert/internal/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const TaskCalled = "notify:called"

// Dispatcher hands a job to whatever runs deliveries. It must not wait for
// the delivery itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

const defaultDispatchTimeout = 5 * time.Second

// Orchestrator is the lifecycle's call notifier. Dispatch runs on its own
// goroutine under timeout, so NotifyCalled returns immediately.
type Orchestrator struct {
	dispatcher Dispatcher
	sink       Sink
	timeout    time.Duration
	inflight   sync.WaitGroup
}

func NewOrchestrator(dispatcher Dispatcher, sink Sink, timeout time.Duration) *Orchestrator {
	if sink == nil {
		sink = LogSink{}
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Orchestrator{dispatcher: dispatcher, sink: sink, timeout: timeout}
}

func (o *Orchestrator) NotifyCalled(entry models.QueueEntry) {
	job := JobFor(entry)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.dispatcher.Dispatch(ctx, job); err != nil {
			o.sink.Record(Outcome{Job: job, Err: fmt.Errorf("%w: dispatch: %v", ErrNotificationFailed, err)})
		}
	}()
}

// Wait blocks until every dispatch started so far has returned.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// QueueWorker delivers jobs on its own goroutine. Jobs are dropped when
// the buffer is full.
type QueueWorker struct {
	deliverer *Deliverer
	jobs      chan Job
	sink      Sink
}

func NewQueueWorker(deliverer *Deliverer, buffer int) *QueueWorker {
	if buffer <= 0 {
		buffer = 64
	}
	return &QueueWorker{deliverer: deliverer, jobs: make(chan Job, buffer), sink: deliverer.sink}
}

func (w *QueueWorker) Dispatch(ctx context.Context, job Job) error {
	select {
	case w.jobs <- job:
	default:
		w.sink.Record(Outcome{Job: job, Dropped: true})
	}
	return nil
}

// Run delivers queued jobs until ctx is cancelled. A job already taken off
// the queue finishes on a context that outlives ctx. Jobs still buffered at
// cancellation are recorded as dropped.
func (w *QueueWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.drop()
			return
		}
		select {
		case <-ctx.Done():
			w.drop()
			return
		case job := <-w.jobs:
			_ = w.deliverer.Deliver(context.WithoutCancel(ctx), job)
		}
	}
}

func (w *QueueWorker) drop() {
	for {
		select {
		case job := <-w.jobs:
			w.sink.Record(Outcome{Job: job, Dropped: true})
		default:
			return
		}
	}
}

// AsynqDispatcher enqueues jobs for a separate worker process.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(client *asynq.Client, queue string) *AsynqDispatcher {
	if queue == "" {
		queue = "notifications"
	}
	return &AsynqDispatcher{client: client, queue: queue}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskCalled, payload, asynq.Queue(d.queue), asynq.MaxRetry(0))
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"entry_id": job.EntryID,
		"task_id":  info.ID,
		"queue":    info.Queue,
	}).Debug("notify enqueued")
	return nil
}

// ProcessTask is the asynq handler for TaskCalled. Delivery failures are
// recorded by the sink and reported as SkipRetry so asynq does not retry.
func (d *Deliverer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := d.Deliver(ctx, job); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}
