package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

var dispatcherTracer = otel.Tracer("catalogai.internal.conversation.dispatcher")

const (
	receiveBatchSize   = 5
	receiveWaitSeconds = 10
	receiveBackoff     = 2 * time.Second
	syncWaitTimeout    = 90 * time.Second
)

// turnPayload is the queue wire format for one enqueued turn.
type turnPayload struct {
	JobID   string      `json:"job_id"`
	Request TurnRequest `json:"request"`
}

type dispatchResult struct {
	resp *TurnResponse
	err  error
}

// jobTracker is the subset of job persistence the dispatcher needs. It is
// optional; a nil tracker disables job records.
type jobTracker interface {
	PutQueued(ctx context.Context, job *JobRecord) error
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, resp *TurnResponse) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

// Dispatcher runs conversation turns through a queue. Webhook deliveries are
// fire-and-forget via EnqueueTurn; ProcessTurn enqueues and blocks until a
// worker finishes, so the HTTP API keeps a synchronous surface while sharing
// the same worker path.
type Dispatcher struct {
	engine    Service
	queue     queueClient
	transport messaging.Transport
	jobs      jobTracker
	logger    *logging.Logger
	workers   int

	pending sync.Map // jobID -> chan dispatchResult

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ messaging.TurnEnqueuer = (*Dispatcher)(nil)
var _ Service = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. The job tracker may be nil.
func NewDispatcher(engine Service, queue queueClient, transport messaging.Transport, jobs jobTracker, workers int, logger *logging.Logger) *Dispatcher {
	if engine == nil {
		panic("conversation: engine cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if transport == nil {
		panic("conversation: transport cannot be nil")
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		engine:    engine,
		queue:     queue,
		transport: transport,
		jobs:      jobs,
		logger:    logger,
		workers:   workers,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}
	d.logger.Info("conversation dispatcher started", "workers", d.workers)
}

// Shutdown stops the workers and waits for in-flight turns to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conversation: dispatcher shutdown: %w", ctx.Err())
	}
}

// EnqueueTurn schedules an inbound channel message for asynchronous
// processing. A worker delivers the outbound messages over the transport.
func (d *Dispatcher) EnqueueTurn(ctx context.Context, jobID string, msg messaging.InboundMessage) error {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	req := TurnRequest{
		ConversationID: msg.From,
		From:           msg.From,
		To:             msg.To,
		Text:           msg.Text,
		ImageB64:       msg.ImageB64,
		ImageMIME:      msg.ImageMIME,
	}
	return d.enqueue(ctx, jobID, req)
}

// ProcessTurn enqueues the turn and waits for a worker to complete it, so
// callers see the same semantics as invoking the engine directly.
func (d *Dispatcher) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	jobID := uuid.NewString()
	ch := make(chan dispatchResult, 1)
	d.pending.Store(jobID, ch)
	defer d.pending.Delete(jobID)

	if err := d.enqueue(ctx, jobID, req); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, syncWaitTimeout)
	defer cancel()
	select {
	case res := <-ch:
		return res.resp, res.err
	case <-waitCtx.Done():
		return nil, fmt.Errorf("conversation: turn %s timed out: %w", jobID, waitCtx.Err())
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, jobID string, req TurnRequest) error {
	ctx, span := dispatcherTracer.Start(ctx, "Dispatcher.Enqueue")
	defer span.End()

	if req.From == "" {
		return errors.New("conversation: sender required")
	}
	if req.ConversationID == "" {
		req.ConversationID = req.From
	}

	if d.jobs != nil {
		record := &JobRecord{
			JobID:          jobID,
			ConversationID: req.ConversationID,
			Request:        &req,
		}
		if err := d.jobs.PutQueued(ctx, record); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job record failed")
			return err
		}
	}

	body, err := json.Marshal(turnPayload{JobID: jobID, Request: req})
	if err != nil {
		return fmt.Errorf("conversation: failed to encode turn payload: %w", err)
	}
	if err := d.queue.Send(ctx, string(body)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		if d.jobs != nil {
			if markErr := d.jobs.MarkFailed(ctx, jobID, err.Error()); markErr != nil {
				d.logger.Error("failed to mark job failed", "job_id", jobID, "error", markErr)
			}
		}
		return err
	}

	d.logger.Info("turn enqueued", "job_id", jobID, "conversation_id", req.ConversationID)
	return nil
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With("worker", id)
	logger.Info("turn worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("turn worker stopping")
			return
		default:
		}

		msgs, err := d.queue.Receive(ctx, receiveBatchSize, receiveWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("turn worker stopping")
				return
			}
			logger.Error("queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			d.handleQueueMessage(ctx, logger, msg)
		}
	}
}

func (d *Dispatcher) handleQueueMessage(ctx context.Context, logger *logging.Logger, msg queueMessage) {
	ctx, span := dispatcherTracer.Start(ctx, "Dispatcher.HandleTurn")
	defer span.End()

	var payload turnPayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		logger.Error("dropping malformed queue message", "message_id", msg.ID, "error", err)
		d.deleteMessage(ctx, logger, msg)
		return
	}
	logger = logger.With("job_id", payload.JobID, "conversation_id", payload.Request.ConversationID)

	if d.jobs != nil {
		if err := d.jobs.MarkProcessing(ctx, payload.JobID); err != nil {
			logger.Error("failed to mark job processing", "error", err)
		}
	}

	resp, err := d.engine.ProcessTurn(ctx, payload.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		logger.Error("turn processing failed", "error", err)
		if d.jobs != nil {
			if markErr := d.jobs.MarkFailed(ctx, payload.JobID, err.Error()); markErr != nil {
				logger.Error("failed to mark job failed", "error", markErr)
			}
		}
		d.deleteMessage(ctx, logger, msg)
		d.deliverResult(payload.JobID, dispatchResult{err: err})
		return
	}

	if sendErr := d.transport.Send(ctx, payload.Request.From, resp.Messages); sendErr != nil {
		logger.Error("outbound delivery failed", "error", sendErr)
	}

	if d.jobs != nil {
		if err := d.jobs.MarkCompleted(ctx, payload.JobID, resp); err != nil {
			logger.Error("failed to mark job completed", "error", err)
		}
	}
	d.deleteMessage(ctx, logger, msg)
	d.deliverResult(payload.JobID, dispatchResult{resp: resp})
	logger.Info("turn completed", "messages", len(resp.Messages), "transfer", resp.ShouldTransfer)
}

func (d *Dispatcher) deleteMessage(ctx context.Context, logger *logging.Logger, msg queueMessage) {
	if msg.ReceiptHandle == "" {
		return
	}
	if err := d.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		logger.Error("failed to delete queue message", "message_id", msg.ID, "error", err)
	}
}

func (d *Dispatcher) deliverResult(jobID string, res dispatchResult) {
	v, ok := d.pending.Load(jobID)
	if !ok {
		return
	}
	ch := v.(chan dispatchResult)
	select {
	case ch <- res:
	default:
	}
}
