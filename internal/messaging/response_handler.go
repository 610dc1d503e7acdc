package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/metrics"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/spaolacci/murmur3"
)

// DefaultLaneCount is the number of worker lanes processing messages in parallel.
const DefaultLaneCount = 8

// DefaultLaneBuffer is the queue depth of each lane.
const DefaultLaneBuffer = 32

// DefaultDedupWindow covers Twilio's webhook retries and whatsmeow redelivery after reconnects.
const DefaultDedupWindow = 15 * time.Minute

// Advancer produces the reply to one inbound message. *flow.Engine implements it.
type Advancer interface {
	Advance(ctx context.Context, msg models.InboundMessage) (string, error)
}

// HandlerOpts configures the response handler.
type HandlerOpts struct {
	Lanes       int
	LaneBuffer  int
	DedupWindow time.Duration
}

// HandlerOption configures the response handler.
type HandlerOption func(*HandlerOpts)

// WithLanes sets the number of worker lanes.
func WithLanes(n int) HandlerOption {
	return func(o *HandlerOpts) { o.Lanes = n }
}

// WithLaneBuffer sets the queue depth of each lane.
func WithLaneBuffer(n int) HandlerOption {
	return func(o *HandlerOpts) { o.LaneBuffer = n }
}

// WithDedupWindow sets how long a message id is remembered.
func WithDedupWindow(d time.Duration) HandlerOption {
	return func(o *HandlerOpts) { o.DedupWindow = d }
}

// ResponseHandler feeds messages from a Service into the engine and sends the replies back.
// Messages from one sender always land in the same lane, so they are handled in arrival order.
type ResponseHandler struct {
	engine     Advancer
	msgService Service
	lanes      []chan models.Response
	seen       *Deduplicator
	wg         sync.WaitGroup
	startOnce  sync.Once
}

// NewResponseHandler creates a ResponseHandler for the given engine and messaging service.
func NewResponseHandler(engine Advancer, msgService Service, opts ...HandlerOption) *ResponseHandler {
	cfg := HandlerOpts{Lanes: DefaultLaneCount, LaneBuffer: DefaultLaneBuffer, DedupWindow: DefaultDedupWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = DefaultLaneCount
	}
	if cfg.LaneBuffer < 0 {
		cfg.LaneBuffer = 0
	}

	lanes := make([]chan models.Response, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan models.Response, cfg.LaneBuffer)
	}
	return &ResponseHandler{
		engine:     engine,
		msgService: msgService,
		lanes:      lanes,
		seen:       NewDeduplicator(cfg.DedupWindow),
	}
}

// laneFor picks the lane for a sender, keyed by the canonical number when it has one.
func (rh *ResponseHandler) laneFor(from string) int {
	if canonical, err := rh.msgService.ValidateAndCanonicalizeRecipient(from); err == nil {
		from = canonical
	}
	return int(murmur3.Sum32([]byte(from)) % uint32(len(rh.lanes)))
}

// ProcessResponse advances the sender's conversation and sends the reply.
// A message id seen within the dedup window is dropped without a reply,
// unless the engine failed on it before saving the conversation.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	if rh.seen.Seen(response.MessageID) {
		metrics.DuplicateMessagesTotal.Inc()
		slog.Info("ResponseHandler dropping redelivered message", "message_id", response.MessageID, "from", response.From)
		return nil
	}
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	msg := models.InboundMessage{UserID: from, Text: response.Body, Media: response.Media}
	reply, advanceErr := rh.engine.Advance(ctx, msg)
	switch {
	case advanceErr == nil:
	case errors.Is(advanceErr, flow.ErrOrderNotPersisted):
		slog.Error("ResponseHandler order was confirmed but not persisted", "error", advanceErr, "from", from)
	default:
		// The conversation was not saved, so a redelivery must be processed.
		rh.seen.Forget(response.MessageID)
		slog.Error("ResponseHandler engine failed", "error", advanceErr, "from", from)
	}

	if reply == "" {
		return advanceErr
	}
	if err := rh.msgService.SendMessage(ctx, from, reply); err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorDelivery).Inc()
		slog.Error("ResponseHandler failed to send reply", "error", err, "from", from)
		return errors.Join(advanceErr, fmt.Errorf("failed to send reply: %w", err))
	}
	slog.Debug("ResponseHandler reply sent", "from", from, "reply_length", len(reply))
	return advanceErr
}

// Start begins consuming the service's responses. It returns immediately;
// use Wait to block until the lanes have drained after ctx is cancelled or
// the responses channel closes.
func (rh *ResponseHandler) Start(ctx context.Context) {
	rh.startOnce.Do(func() {
		slog.Info("ResponseHandler starting response processing", "lanes", len(rh.lanes))
		for i, lane := range rh.lanes {
			rh.wg.Add(1)
			go rh.runLane(ctx, i, lane)
		}
		rh.wg.Add(1)
		go rh.dispatch(ctx)
	})
}

// Wait blocks until every lane has stopped.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) dispatch(ctx context.Context) {
	defer rh.wg.Done()
	defer func() {
		for _, lane := range rh.lanes {
			close(lane)
		}
		slog.Info("ResponseHandler stopped response processing")
	}()

	for {
		select {
		case response, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Debug("ResponseHandler responses channel closed")
				return
			}
			lane := rh.lanes[rh.laneFor(response.From)]
			select {
			case lane <- response:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			slog.Debug("ResponseHandler stopping due to context cancellation")
			return
		}
	}
}

func (rh *ResponseHandler) runLane(ctx context.Context, id int, lane <-chan models.Response) {
	defer rh.wg.Done()
	for response := range lane {
		if err := rh.ProcessResponse(ctx, response); err != nil {
			slog.Debug("ResponseHandler lane finished message with error", "lane", id, "error", err, "from", response.From)
		}
	}
}
