package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/metrics"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Reply text used by the engine outside of step prompts.
const (
	MsgRestarted         = "🔄 No problem, let's start over."
	MsgInvalidMenuChoice = "Please reply with '1' to place an order or '2' to view your upcoming orders."
	MsgOrderCancelled    = "❌ Order cancelled. Nothing was saved."
	MsgOrderConfirmed    = "✅ Thank you! Your cake order has been received and saved. We will be in touch to confirm the details."
	MsgOrderNotRecorded  = "⚠️ Thank you! We received your answers but could not record your order. " +
		"Please contact us directly so we can make sure it is booked."
	MsgCalendarBooked   = "📅 Your event has been added to our calendar."
	MsgCalendarFailed   = "⚠️ We could not add your event to our calendar automatically; our team will do it manually."
	MsgImageMissing     = "I didn't receive a picture. Please send the image, or type *Skip* to continue without one."
	MsgImageFailed      = "⚠️ Sorry, I couldn't save that picture. Please try sending it again, or type *Skip* to continue without one."
	MsgLookupFailed     = "⚠️ Sorry, I couldn't look up your orders right now. Please try again later."
	MsgLostPlace        = "Sorry, I lost my place in our conversation. Please type *Restart* to begin again."
	MsgTemporaryFailure = "⚠️ Sorry, something went wrong on our side. Please send your message again in a moment."
)

// Control keywords recognized at any step.
var resetKeywords = map[string]bool{"restart": true, "reset": true}

// SkipKeyword bypasses the image upload step.
const SkipKeyword = "skip"

// Engine drives the cake order conversation for every user.
type Engine struct {
	sessions StateManager
	orders   OrderRepository
	calendar CalendarService
	media    MediaResolver
	now      func() time.Time
	locks    *userLocks
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCalendar books confirmed orders on cal. Without it, calendar booking is skipped.
func WithCalendar(cal CalendarService) EngineOption {
	return func(e *Engine) { e.calendar = cal }
}

// WithMediaResolver enables image uploads through r.
func WithMediaResolver(r MediaResolver) EngineOption {
	return func(e *Engine) { e.media = r }
}

// WithClock overrides the time source (tests, fixed timezones).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine backed by the given session store and order repository.
func NewEngine(sessions StateManager, orders OrderRepository, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions: sessions,
		orders:   orders,
		now:      time.Now,
		locks:    newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("Engine created", "calendar_set", e.calendar != nil, "media_set", e.media != nil)
	return e
}

// Advance processes one inbound message and returns the reply for the user.
// Messages for the same user are processed one at a time.
//
// The returned error is non-nil only for failures the caller may need to act
// on (session store errors, an order that could not be persisted); the reply
// is always safe to send.
func (e *Engine) Advance(ctx context.Context, msg models.InboundMessage) (string, error) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return MsgTemporaryFailure, models.ErrEmptyUserID
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	conv, err := e.sessions.GetConversation(ctx, userID)
	if err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorSessions).Inc()
		metrics.MessagesTotal.WithLabelValues("unknown", metrics.OutcomeError).Inc()
		return MsgTemporaryFailure, fmt.Errorf("failed to load conversation for %s: %w", userID, err)
	}
	if conv == nil {
		conv = models.NewConversation(userID, e.now())
		slog.Debug("Engine.Advance: new conversation", "userID", userID)
	}

	arrivedAt := conv.Step
	normalized := NormalizeInput(msg.Text)

	var (
		reply   string
		outcome string
		stepErr error
	)
	if resetKeywords[normalized] {
		conv.Reset(models.StepStart)
		reply, outcome = MsgRestarted+"\n\n"+e.greeting(conv), metrics.OutcomeReset
		slog.Info("Engine.Advance: conversation reset", "userID", userID, "from", arrivedAt)
	} else {
		reply, outcome, stepErr = e.dispatch(ctx, conv, msg, normalized)
	}

	if err := e.sessions.SaveConversation(ctx, conv); err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorSessions).Inc()
		metrics.MessagesTotal.WithLabelValues(string(arrivedAt), metrics.OutcomeError).Inc()
		return MsgTemporaryFailure, fmt.Errorf("failed to save conversation for %s: %w", userID, err)
	}

	metrics.MessagesTotal.WithLabelValues(string(arrivedAt), outcome).Inc()
	slog.Debug("Engine.Advance: processed", "userID", userID, "from", arrivedAt, "to", conv.Step, "outcome", outcome)
	return reply, stepErr
}

// dispatch routes the message by the conversation's current step and mutates conv in place.
func (e *Engine) dispatch(ctx context.Context, conv *models.Conversation, msg models.InboundMessage, normalized string) (string, string, error) {
	switch conv.Step {
	case models.StepStart, models.StepComplete:
		// The greeting already showed the menu, so a menu choice is answered directly.
		conv.Reset(models.StepMainMenu)
		if isMenuChoice(normalized) {
			return e.handleMenu(ctx, conv, normalized)
		}
		return e.greeting(conv), metrics.OutcomeNavigation, nil
	case models.StepMainMenu:
		return e.handleMenu(ctx, conv, normalized)
	case models.StepAskImageUpload:
		return e.handleImageUpload(ctx, conv, msg, normalized)
	case models.StepAskConfirmation:
		return e.handleConfirmation(ctx, conv, msg.Text)
	}

	step, ok := LookupStep(conv.Step)
	if !ok {
		slog.Error("Engine.dispatch: step not in flow table", "userID", conv.UserID, "step", conv.Step)
		return MsgLostPlace, metrics.OutcomeUnroutable, nil
	}
	return e.handleAnswer(conv, step, msg.Text)
}

// handleAnswer validates and records the answer for a data-collecting step.
func (e *Engine) handleAnswer(conv *models.Conversation, step Step, text string) (string, string, error) {
	answer := strings.TrimSpace(text)
	if ok, errMsg := Validate(conv.Step, answer, conv.Data, e.now()); !ok {
		slog.Debug("Engine.handleAnswer: validation failed", "userID", conv.UserID, "step", conv.Step)
		return e.reprompt(conv, errMsg), metrics.OutcomeRejected, nil
	}
	if step.DataKey != "" {
		conv.Data[step.DataKey] = answer
	}
	conv.Step = step.NextStep(answer)
	return e.prompt(conv.Step, conv.Data), metrics.OutcomeAccepted, nil
}

// greeting is the welcome text followed by the main menu.
func (e *Engine) greeting(conv *models.Conversation) string {
	return e.prompt(models.StepStart, conv.Data) + "\n\n" + e.prompt(models.StepMainMenu, conv.Data)
}

func isMenuChoice(choice string) bool {
	step, _ := LookupStep(models.StepMainMenu)
	_, ok := step.NextIf[choice]
	return ok
}

func (e *Engine) handleMenu(ctx context.Context, conv *models.Conversation, choice string) (string, string, error) {
	if !isMenuChoice(choice) {
		return e.reprompt(conv, MsgInvalidMenuChoice), metrics.OutcomeRejected, nil
	}
	step, _ := LookupStep(models.StepMainMenu)

	switch choice {
	case MenuChoiceViewOrders:
		return e.listOrders(ctx, conv.UserID) + "\n\n" + e.prompt(models.StepMainMenu, conv.Data), metrics.OutcomeNavigation, nil
	default:
		conv.Reset(step.NextStep(choice))
		return e.prompt(conv.Step, conv.Data), metrics.OutcomeNavigation, nil
	}
}

func (e *Engine) listOrders(ctx context.Context, userID string) string {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	orders, err := e.orders.FutureOrders(ctx, userID, today)
	if err != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorLookup).Inc()
		slog.Error("Engine.listOrders: lookup failed", "error", err, "userID", userID)
		return MsgLookupFailed
	}
	slog.Debug("Engine.listOrders: found orders", "userID", userID, "count", len(orders))
	return RenderOrderList(orders)
}

func (e *Engine) handleImageUpload(ctx context.Context, conv *models.Conversation, msg models.InboundMessage, normalized string) (string, string, error) {
	step, _ := LookupStep(models.StepAskImageUpload)

	if normalized == SkipKeyword {
		conv.Data[step.DataKey] = models.ImageSkipped
		conv.Step = step.Next
		return e.prompt(conv.Step, conv.Data), metrics.OutcomeAccepted, nil
	}
	if msg.Media == nil {
		return MsgImageMissing, metrics.OutcomeRejected, nil
	}
	if e.media == nil {
		slog.Warn("Engine.handleImageUpload: no media resolver configured", "userID", conv.UserID)
		return MsgImageFailed, metrics.OutcomeRejected, nil
	}

	url, err := e.media.Resolve(ctx, conv.UserID, *msg.Media)
	if err != nil || url == "" {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorMedia).Inc()
		slog.Error("Engine.handleImageUpload: media resolution failed", "error", err, "userID", conv.UserID)
		return MsgImageFailed, metrics.OutcomeRejected, nil
	}

	conv.Data[step.DataKey] = url
	conv.Step = step.Next
	slog.Info("Engine.handleImageUpload: image stored", "userID", conv.UserID)
	return e.prompt(conv.Step, conv.Data), metrics.OutcomeAccepted, nil
}

func (e *Engine) handleConfirmation(ctx context.Context, conv *models.Conversation, text string) (string, string, error) {
	if ok, errMsg := Validate(models.StepAskConfirmation, text, conv.Data, e.now()); !ok {
		return e.reprompt(conv, errMsg), metrics.OutcomeRejected, nil
	}

	step, _ := LookupStep(models.StepAskConfirmation)
	switch step.NextStep(text) {
	case models.StepComplete:
		reply, err := e.finalize(ctx, conv)
		return reply, metrics.OutcomeAccepted, err
	default:
		conv.Reset(models.StepMainMenu)
		metrics.OrdersTotal.WithLabelValues(metrics.OrderCancelled).Inc()
		slog.Info("Engine.handleConfirmation: order cancelled", "userID", conv.UserID)
		return MsgOrderCancelled + "\n\n" + e.prompt(models.StepMainMenu, conv.Data), metrics.OutcomeAccepted, nil
	}
}

// finalize books and records the confirmed order. Calendar failures only
// degrade the reply; a persistence failure is also returned to the caller.
// Either way the conversation ends at StepComplete with its data kept.
func (e *Engine) finalize(ctx context.Context, conv *models.Conversation) (string, error) {
	order := models.OrderFromData(conv.UserID, conv.Data, e.now())

	var notices []string
	if e.calendar != nil {
		if err := e.calendar.CreateEvent(ctx, order); err != nil {
			metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorCalendar).Inc()
			slog.Error("Engine.finalize: calendar event failed", "error", err, "userID", conv.UserID)
			notices = append(notices, MsgCalendarFailed)
		} else {
			notices = append(notices, MsgCalendarBooked)
		}
	}

	persistErr := e.orders.SaveOrder(ctx, order)

	conv.Data[models.DataKeyUserID] = conv.UserID
	conv.Step = models.StepComplete

	reply := MsgOrderConfirmed
	if persistErr != nil {
		metrics.CollaboratorFailuresTotal.WithLabelValues(metrics.CollaboratorOrders).Inc()
		metrics.OrdersTotal.WithLabelValues(metrics.OrderPersistFailed).Inc()
		slog.Error("Engine.finalize: order not persisted", "error", persistErr, "userID", conv.UserID)
		reply = MsgOrderNotRecorded
	} else {
		metrics.OrdersTotal.WithLabelValues(metrics.OrderSaved).Inc()
		slog.Info("Engine.finalize: order saved", "userID", conv.UserID, "event_date", order.EventDate)
	}
	for _, n := range notices {
		reply += "\n\n" + n
	}

	if persistErr != nil {
		return reply, fmt.Errorf("%w for %s: %w", ErrOrderNotPersisted, conv.UserID, persistErr)
	}
	return reply, nil
}

// prompt renders the prompt for step, or the lost-place message for an unknown step.
func (e *Engine) prompt(step models.StepType, data map[models.DataKey]string) string {
	s, ok := LookupStep(step)
	if !ok {
		return MsgLostPlace
	}
	return s.Render(data)
}

// reprompt prefixes errMsg to the current step's prompt.
func (e *Engine) reprompt(conv *models.Conversation, errMsg string) string {
	return "❌ " + errMsg + "\n\n" + e.prompt(conv.Step, conv.Data)
}

// Conversation returns a snapshot of the user's conversation, or nil.
func (e *Engine) Conversation(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := e.sessions.GetConversation(ctx, userID)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

// Reset clears the user's conversation outside of the chat (operator action).
func (e *Engine) Reset(ctx context.Context, userID string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()
	return e.sessions.ResetConversation(ctx, userID)
}

// UpcomingOrders returns the user's future orders.
func (e *Engine) UpcomingOrders(ctx context.Context, userID string) ([]models.Order, error) {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return e.orders.FutureOrders(ctx, userID, today)
}
