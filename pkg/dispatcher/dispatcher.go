package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"flowrelay/pkg/backend"
	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/bus"
	"flowrelay/pkg/dedup"
	"flowrelay/pkg/dialog"
	"flowrelay/pkg/fault"
	"flowrelay/pkg/session"

	"github.com/google/uuid"
)

// Dispatcher routes updates of one client to its backend and renderer.
// A client owns exactly one dispatcher and one session store.
type Dispatcher struct {
	client     string
	store      *session.Store
	backend    backend.Backend
	renderer   Renderer
	bus        *bus.MessageBus
	dedup      dedup.Deduplicator
	launchVars backendtypes.Variables
	log        *slog.Logger

	active atomic.Bool
}

type Option func(*Dispatcher)

// WithBus publishes turn events to messageBus.
func WithBus(messageBus *bus.MessageBus) Option {
	return func(d *Dispatcher) {
		d.bus = messageBus
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithLaunchVariables sets the variables sent with every launch request.
func WithLaunchVariables(vars backendtypes.Variables) Option {
	return func(d *Dispatcher) {
		d.launchVars = vars
	}
}

func WithClientName(name string) Option {
	return func(d *Dispatcher) {
		d.client = strings.TrimSpace(name)
	}
}

// WithDedup drops updates whose id was already seen.
func WithDedup(seen dedup.Deduplicator) Option {
	return func(d *Dispatcher) {
		d.dedup = seen
	}
}

func New(store *session.Store, client backend.Backend, renderer Renderer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		backend:  client,
		renderer: renderer,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "dispatcher.turn", "client", d.client)
	d.active.Store(true)
	return d
}

func (d *Dispatcher) Client() string { return d.client }

func (d *Dispatcher) Store() *session.Store { return d.store }

func (d *Dispatcher) IsActive() bool { return d.active.Load() }

// SetActive switches the whole client on or off.
func (d *Dispatcher) SetActive(active bool) { d.active.Store(active) }

type turnResult struct {
	blocks int
	ended  bool
}

// Dispatch runs one turn for update. Protocol rejections are returned as
// fault errors and leave the session untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, update Update) error {
	turnID := uuid.NewString()
	startedAt := time.Now()
	base := bus.Event{
		TurnID:      turnID,
		Client:      d.client,
		ChatID:      update.ChatID,
		UpdateID:    update.UpdateID,
		Interaction: update.Interaction.String(),
	}

	log := d.log.With("turn_id", turnID, "chat_id", update.ChatID, "update_id", update.UpdateID)
	log.Debug("Turn started", "interaction", base.Interaction)
	d.publish(ctx, bus.EventTurnReceived, base)

	result, err := d.dispatch(ctx, update)

	base.DurationMS = time.Since(startedAt).Milliseconds()
	switch {
	case err == nil:
		base.Blocks = result.blocks
		base.Ended = result.ended
		log.Debug("Turn completed", "blocks", result.blocks, "ended", result.ended, "duration_ms", base.DurationMS)
		d.publish(ctx, bus.EventTurnCompleted, base)
	case fault.IsProtocol(err):
		base.Category = fault.CategoryFromError(err)
		log.Info("Turn dropped", "category", base.Category, "error", err)
		d.publish(ctx, bus.EventTurnDropped, base)
	default:
		base.Category = fault.CategoryFromError(err)
		base.Error = err.Error()
		log.Warn("Turn failed", "category", base.Category, "error", err, "duration_ms", base.DurationMS)
		d.publish(ctx, bus.EventTurnFailed, base)
	}

	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, update Update) (turnResult, error) {
	if strings.TrimSpace(update.ChatID) == "" {
		return turnResult{}, fault.New(fault.CategoryValidation, "update has no chat id")
	}

	if err := d.checkDuplicate(ctx, update); err != nil {
		return turnResult{}, err
	}

	if !d.IsActive() {
		return turnResult{}, fault.Newf(fault.CategoryClientDeactivated, "client %s is deactivated", d.client)
	}

	guard, valid, err := d.store.Acquire(update.ChatID)
	if err != nil {
		return turnResult{}, err
	}
	defer guard.Release()

	if err := d.admit(guard, update); err != nil {
		return turnResult{}, err
	}
	if valid {
		return d.continueConversation(ctx, guard, update)
	}

	vars := d.launchVars.Merge(update.Variables)
	return d.converse(ctx, guard, update, nil, func(ctx context.Context, identity backendtypes.Identity) dialog.Message {
		return d.backend.Launch(ctx, identity, vars)
	})
}

func (d *Dispatcher) checkDuplicate(ctx context.Context, update Update) error {
	if d.dedup == nil || update.UpdateID == "" {
		return nil
	}

	first, err := d.dedup.FirstSeen(ctx, dedupKey(d.client, update))
	if err != nil {
		// A dedup outage lets updates through.
		d.log.Warn("Dedup lookup failed", "update_id", update.UpdateID, "error", err)
		return nil
	}
	if !first {
		return fault.Newf(fault.CategoryDuplicate, "update %s already handled", update.UpdateID)
	}
	return nil
}

// dedupKey scopes an update id to its client and chat. Web chat ids are
// chosen by the browser and only unique within one chat.
func dedupKey(client string, update Update) string {
	return client + ":" + update.ChatID + ":" + update.UpdateID
}

// admit rejects inactive sessions and updates older than the last message
// shown to the chat.
func (d *Dispatcher) admit(guard *session.Guard, update Update) error {
	if !guard.IsActive() {
		return fault.Newf(fault.CategoryClientDeactivated, "session %s is deactivated", update.ChatID)
	}

	if previous, ok := guard.PreviousMessage(); ok && previous.SentAt > update.Time {
		return fault.Newf(fault.CategoryDeprecated, "update at %d predates message sent at %d", update.Time, previous.SentAt)
	}

	return nil
}

func (d *Dispatcher) continueConversation(ctx context.Context, guard *session.Guard, update Update) (turnResult, error) {
	interaction := update.Interaction

	switch interaction.Kind {
	case InteractionText:
		return d.converse(ctx, guard, update, nil, func(ctx context.Context, identity backendtypes.Identity) dialog.Message {
			return d.backend.SendText(ctx, identity, update.Variables, interaction.Text)
		})
	case InteractionButton:
		button, err := d.resolveButton(guard, update)
		if err != nil {
			return turnResult{}, err
		}
		var prefix dialog.Block
		if url, ok := button.URL(); ok {
			prefix = dialog.Text{Message: url}
		}
		return d.converse(ctx, guard, update, prefix, func(ctx context.Context, identity backendtypes.Identity) dialog.Message {
			return d.backend.ChooseButton(ctx, identity, update.Variables, button.Path, button.Payload)
		})
	case InteractionCarouselSwitch:
		return d.switchCarousel(ctx, guard, update)
	default:
		return turnResult{}, fault.Newf(fault.CategoryValidation, "cannot handle %s interaction", interaction)
	}
}

func (d *Dispatcher) resolveButton(guard *session.Guard, update Update) (dialog.Button, error) {
	previous, ok := guard.PreviousMessage()
	if !ok {
		return dialog.Button{}, fault.New(fault.CategoryValidation, "no previous message to choose a button from")
	}

	if carousel, ok := previous.Block.(*dialog.Carousel); ok && carousel.Mark() != update.Mark {
		return dialog.Button{}, fault.Newf(fault.CategoryDeprecated, "carousel mark %d does not match %d", update.Mark, carousel.Mark())
	}

	return dialog.ButtonAt(previous.Block, update.Interaction.Index)
}

func (d *Dispatcher) switchCarousel(ctx context.Context, guard *session.Guard, update Update) (turnResult, error) {
	previous, ok := guard.PreviousMessage()
	if !ok {
		return turnResult{}, fault.New(fault.CategoryValidation, "no previous message to switch")
	}

	carousel, ok := previous.Block.(*dialog.Carousel)
	if !ok {
		return turnResult{}, fault.Newf(fault.CategoryValidation, "previous %s block is not a carousel", dialog.Describe(previous.Block))
	}

	if carousel.Mark() != update.Mark {
		return turnResult{}, fault.Newf(fault.CategoryDeprecated, "carousel mark %d does not match %d", update.Mark, carousel.Mark())
	}

	card, index, err := carousel.Neighbor(update.Interaction.Forward)
	if err != nil {
		return turnResult{}, err
	}

	view := CarouselView{Carousel: carousel, Card: card, Index: index, Mark: carousel.NextMark()}
	if _, err := d.renderer.SwitchCarousel(ctx, update.ChatID, previous, view); err != nil {
		return turnResult{}, fault.Wrap(fault.CategoryInternal, "switch carousel page", err)
	}

	if err := carousel.SetSelected(view.Index, view.Mark); err != nil {
		return turnResult{}, err
	}
	guard.SetLastInteraction(update.Time)
	guard.SetPreviousMessage(session.SentMessage{
		Block:     carousel,
		MessageID: previous.MessageID,
		SentAt:    previous.SentAt,
	})

	return turnResult{blocks: 1}, nil
}

// converse runs one backend call and renders its reply. The last rendered
// message becomes the previous message even when rendering fails midway.
func (d *Dispatcher) converse(
	ctx context.Context,
	guard *session.Guard,
	update Update,
	prefix dialog.Block,
	call func(context.Context, backendtypes.Identity) dialog.Message,
) (turnResult, error) {
	guard.SetLastInteraction(update.Time)

	reply := call(ctx, guard.BackendSession())
	if prefix != nil {
		reply.Prepend(prefix)
	}

	ended := reply.TrimEnd()
	if ended {
		guard.ClearLastInteraction()
	}

	if reply.Empty() {
		return turnResult{ended: ended}, nil
	}

	sent, err := d.renderer.Render(ctx, update.ChatID, reply)
	if len(sent) > 0 {
		guard.SetPreviousMessage(sent[len(sent)-1])
	}
	if err != nil {
		var categorized *fault.Error
		if errors.As(err, &categorized) {
			return turnResult{blocks: len(sent), ended: ended}, err
		}
		return turnResult{blocks: len(sent), ended: ended}, fault.Wrap(fault.CategoryInternal, "render reply", err)
	}

	return turnResult{blocks: len(sent), ended: ended}, nil
}

func (d *Dispatcher) publish(ctx context.Context, eventType bus.EventType, event bus.Event) {
	if d.bus == nil {
		return
	}
	event.Type = eventType
	d.bus.PublishEvent(ctx, event)
}
