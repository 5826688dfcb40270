package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
)

// Processor is the pipeline surface the runner drives: one inbound message in,
// at most one reply out.
type Processor interface {
	Process(ctx context.Context, participantID, text string, meta models.InboundMeta) (string, error)
}

// Runner drains the transport's response channel into the pipeline and sends
// back whatever reply each run produces. Messages from the same participant
// are handled in arrival order; different participants run concurrently.
type Runner struct {
	service Service
	proc    Processor
	channel string

	mu     sync.Mutex
	queues map[string]*participantQueue
}

// participantQueue holds pending messages for one participant. While draining
// is true a goroutine owns the queue and works it front to back.
type participantQueue struct {
	pending  []models.Response
	draining bool
}

// NewRunner creates a runner for one transport. The channel name is recorded
// on each inbound event's metadata.
func NewRunner(service Service, proc Processor, channel string) *Runner {
	return &Runner{
		service: service,
		proc:    proc,
		channel: channel,
		queues:  make(map[string]*participantQueue),
	}
}

// Run consumes responses until the context is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("Messaging runner started", "channel", r.channel)
	responses := r.service.Responses()
	receipts := r.service.Receipts()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Messaging runner stopping", "channel", r.channel)
			return
		case receipt, ok := <-receipts:
			if !ok {
				receipts = nil
				continue
			}
			slog.Debug("Delivery receipt", "to", receipt.To, "status", receipt.Status)
		case resp, ok := <-responses:
			if !ok {
				slog.Info("Response channel closed, runner stopping", "channel", r.channel)
				return
			}
			r.dispatch(ctx, resp)
		}
	}
}

// dispatch enqueues the message on its participant's FIFO queue and starts a
// drain goroutine unless one is already working the queue.
func (r *Runner) dispatch(ctx context.Context, resp models.Response) {
	r.mu.Lock()
	q, ok := r.queues[resp.From]
	if !ok {
		q = &participantQueue{}
		r.queues[resp.From] = q
	}
	q.pending = append(q.pending, resp)
	if q.draining {
		r.mu.Unlock()
		return
	}
	q.draining = true
	r.mu.Unlock()
	go r.drain(ctx, q)
}

// drain works one participant's queue front to back, releasing it when empty.
func (r *Runner) drain(ctx context.Context, q *participantQueue) {
	for {
		r.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			r.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		r.mu.Unlock()
		r.handle(ctx, next)
	}
}

func (r *Runner) handle(ctx context.Context, resp models.Response) {
	meta := models.InboundMeta{
		MessageID:  resp.MessageID,
		Channel:    r.channel,
		ReceivedAt: resp.Time,
	}
	reply, err := r.proc.Process(ctx, resp.From, resp.Body, meta)
	if err != nil {
		slog.Error("Pipeline processing failed", "error", err, "participantID", resp.From)
		return
	}
	if reply == "" {
		return
	}
	if err := r.service.SendMessage(ctx, resp.From, reply); err != nil {
		slog.Error("Failed to send reply", "error", err, "participantID", resp.From)
	}
}
