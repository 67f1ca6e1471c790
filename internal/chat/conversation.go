// Package chat sequences conversation turns over a completion client and
// dispatches the function calls the model selects.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/completion"
	"parley/internal/entrypoint"
	"parley/internal/message"
	"parley/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Conversation owns one message sequence and at most one in-flight cycle.
// All methods are safe for concurrent use.
type Conversation struct {
	client   *completion.Client
	registry *entrypoint.Registry
	opts     options

	mu       sync.Mutex
	messages []message.Message
	inFlight bool
	cancel   context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]func([]message.Message)
	nextSub int
}

func New(client *completion.Client, registry *entrypoint.Registry, opts ...Option) *Conversation {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = message.NewID()
	}
	if registry == nil {
		registry = entrypoint.NewRegistry()
	}
	return &Conversation{
		client:   client,
		registry: registry,
		opts:     o,
		subs:     make(map[int]func([]message.Message)),
	}
}

func (c *Conversation) ID() string { return c.opts.id }

// Messages returns a copy of the visible message sequence.
func (c *Conversation) Messages() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return message.CloneAll(c.messages)
}

func (c *Conversation) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Subscribe registers fn to receive the full message list after every change.
// fn runs on the goroutine driving the cycle and must not call Append or
// Reload. The returned func removes the subscription.
func (c *Conversation) Subscribe(fn func([]message.Message)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// publish delivers msgs to every subscriber outside subMu, so a subscriber
// may unsubscribe from inside its callback.
func (c *Conversation) publish(msgs []message.Message) {
	c.subMu.Lock()
	fns := make([]func([]message.Message), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(message.CloneAll(msgs))
	}
}

// ErrInFlight is returned by TryAppend and TryReload while another cycle is
// in flight.
var ErrInFlight = errors.New("chat: cycle in flight")

// Append adds msg to the sequence and runs a completion cycle over the whole
// history. It returns when the cycle, and any entry point it selected, has
// finished. While another cycle is in flight Append does nothing.
//
// The returned error is the cycle's terminal error: completion.ErrAborted
// after Stop, a *completion.TransportError or *completion.MalformedStreamError
// from the stream, or an *entrypoint.ArgumentParseError or
// *entrypoint.InvocationError from the selected entry point.
func (c *Conversation) Append(ctx context.Context, msg message.Message) error {
	return ignoreInFlight(c.TryAppend(ctx, msg))
}

// TryAppend is Append, except that it returns ErrInFlight instead of doing
// nothing when another cycle is in flight. The check and the start of the
// cycle happen under one lock.
func (c *Conversation) TryAppend(ctx context.Context, msg message.Message) error {
	if msg.ID == "" {
		msg.ID = message.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		slog.Debug("append dropped, cycle in flight", "conversation_id", c.opts.id)
		return ErrInFlight
	}
	c.messages = append(c.messages, msg)
	history, cycleCtx := c.beginLocked(ctx)
	c.mu.Unlock()

	c.publish(history)
	return c.run(ctx, cycleCtx, history)
}

// Reload regenerates the last turn. A trailing assistant message is dropped
// first. Reload does nothing while a cycle is in flight or when the sequence
// is empty.
func (c *Conversation) Reload(ctx context.Context) error {
	return ignoreInFlight(c.TryReload(ctx))
}

// TryReload is Reload, except that it returns ErrInFlight instead of doing
// nothing when another cycle is in flight.
func (c *Conversation) TryReload(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrInFlight
	}
	if len(c.messages) == 0 {
		c.mu.Unlock()
		return nil
	}
	dropped := false
	if last := c.messages[len(c.messages)-1]; last.Role == message.RoleAssistant {
		c.messages = c.messages[:len(c.messages)-1]
		dropped = true
	}
	history, cycleCtx := c.beginLocked(ctx)
	c.mu.Unlock()

	if dropped {
		c.publish(history)
	}
	return c.run(ctx, cycleCtx, history)
}

func ignoreInFlight(err error) error {
	if errors.Is(err, ErrInFlight) {
		return nil
	}
	return err
}

// Stop cancels the in-flight cycle, if any. It is idempotent.
func (c *Conversation) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// beginLocked marks a cycle in flight and returns the history it runs over
// together with the cycle's context. c.mu must be held.
func (c *Conversation) beginLocked(ctx context.Context) ([]message.Message, context.Context) {
	c.inFlight = true
	cycleCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return message.CloneAll(c.messages), cycleCtx
}

// disarm makes the cycle's cancellation inert.
func (c *Conversation) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Conversation) finish() {
	c.disarm()
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Conversation) run(ctx, cycleCtx context.Context, history []message.Message) error {
	defer c.finish()

	ctx = ContextWithConversationID(ctx, c.opts.id)
	cycleCtx = ContextWithConversationID(cycleCtx, c.opts.id)
	cycleCtx, span := trace.Tracer().Start(cycleCtx, "chat.cycle",
		oteltrace.WithAttributes(
			attribute.String("chat.conversation_id", c.opts.id),
			attribute.Int("chat.history", len(history)),
		),
	)
	defer span.End()

	rec := CycleRecord{ConversationID: c.opts.id, Outcome: OutcomeEnd, Started: time.Now()}
	defer func() {
		rec.Duration = time.Since(rec.Started)
		span.SetAttributes(attribute.String("chat.outcome", string(rec.Outcome)))
		if rec.Err != nil && rec.Outcome != OutcomeAborted {
			span.RecordError(rec.Err)
			span.SetStatus(codes.Error, rec.Err.Error())
		}
		c.record(ctx, rec)
	}()

	reply := message.New(message.RoleAssistant, "")
	slot := -1
	update := func(mutate func(*message.Message)) {
		c.mu.Lock()
		mutate(&reply)
		if slot < 0 {
			slot = len(c.messages)
			c.messages = append(c.messages, reply.Clone())
		} else {
			c.messages[slot] = reply.Clone()
		}
		snapshot := message.CloneAll(c.messages)
		c.mu.Unlock()
		c.publish(snapshot)
	}

	req := completion.Request{
		Messages:  append(message.CloneAll(c.opts.initial), history...),
		Functions: c.registry.CompileSchema(),
		Headers:   c.opts.headers,
		Body:      c.opts.body,
	}

	var call *message.FunctionCall
	for ev := range c.client.Stream(cycleCtx, req) {
		switch ev.Type {
		case completion.EventContent:
			update(func(m *message.Message) { m.Content += ev.Content })
		case completion.EventFunctionCall:
			call = ev.FunctionCall
			update(func(m *message.Message) { m.FunctionCall = call })
		case completion.EventError:
			rec.Err = ev.Err
		}
		if call != nil {
			break
		}
	}
	c.disarm()

	if slot >= 0 {
		rec.MessageID = reply.ID
	}
	rec.ContentBytes = len(reply.Content)

	if rec.Err != nil {
		rec.Outcome = OutcomeError
		if errors.Is(rec.Err, completion.ErrAborted) {
			rec.Outcome = OutcomeAborted
		}
		slog.Debug("cycle failed", "conversation_id", c.opts.id, "error", rec.Err)
		return rec.Err
	}
	if call == nil {
		return nil
	}

	rec.Outcome = OutcomeFunctionCall
	rec.Function = call.Name
	res, err := c.registry.ResolveAndInvoke(ctx, history, *call)
	if err != nil {
		rec.Err = err
		return err
	}
	if res.Invoked && c.opts.onResult != nil {
		c.opts.onResult(ctx, res)
	}
	return nil
}

func (c *Conversation) record(ctx context.Context, rec CycleRecord) {
	if c.opts.recorder == nil {
		return
	}
	if err := c.opts.recorder.RecordCycle(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("recording cycle", "conversation_id", c.opts.id, "error", err)
	}
}

// FunctionMessage builds the function-role message that carries an
// invocation result back to the model.
func FunctionMessage(res entrypoint.Result) (message.Message, error) {
	var content string
	switch v := res.Value.(type) {
	case nil:
		content = "null"
	case string:
		content = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return message.Message{}, fmt.Errorf("encoding %s result: %w", res.Call.Name, err)
		}
		content = string(b)
	}
	msg := message.New(message.RoleFunction, content)
	msg.Name = res.Call.Name
	return msg, nil
}
