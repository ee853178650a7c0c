// Package bot sequences one chat turn end to end: gate, history load,
// dispatch, history write, outbound send. It is the only component the
// transport adapter calls.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/petalhq/blossom/convo"
	"github.com/petalhq/blossom/intent"
	"github.com/petalhq/blossom/llm"
	"github.com/petalhq/blossom/policy"
)

type SendFunc func(identity, text string)

// Dispatcher is the completion pool. dispatch.Pool satisfies it; tests
// substitute fakes.
type Dispatcher interface {
	Dispatch(ctx context.Context, req llm.Request) (llm.Result, error)
}

type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
	SystemPrompt string
	FallbackText string
	FillerWords  []string
}

const defaultFallbackText = "I cannot process this right now."

type Orchestrator struct {
	gate       *policy.Gate
	store      convo.Store
	dispatcher Dispatcher
	send       SendFunc
	intents    *intent.Table
	cfg        Config
	logger     *slog.Logger
}

type Option func(*Orchestrator)

// WithIntents installs the canned-reply keyword table consulted before
// the model on the owner path.
func WithIntents(table *intent.Table) Option {
	return func(o *Orchestrator) { o.intents = table }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(gate *policy.Gate, store convo.Store, dispatcher Dispatcher, send SendFunc, cfg Config, opts ...Option) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = convo.DefaultMaxMessages
	}
	if strings.TrimSpace(cfg.FallbackText) == "" {
		cfg.FallbackText = defaultFallbackText
	}
	o := &Orchestrator{
		gate:       gate,
		store:      store,
		dispatcher: dispatcher,
		send:       send,
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnMessage handles one inbound turn. Non-owners never touch the store
// or the dispatcher; the gate alone decides their output.
func (o *Orchestrator) OnMessage(ctx context.Context, identity, text string) {
	switch o.gate.Route(identity) {
	case policy.DecideOffline, policy.DecideSilence:
		return
	}
	o.ownerTurn(ctx, identity, text)
}

func (o *Orchestrator) ownerTurn(ctx context.Context, identity, text string) {
	turnID := uuid.NewString()
	logger := o.logger.With("turn_id", turnID, "identity", identity)

	// The owner must always get a reply, even if the turn blows up
	// somewhere unexpected.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn_panic", "panic", r)
			o.send(identity, o.cfg.FallbackText)
		}
	}()

	if o.intents != nil {
		if reply, ok := o.intents.Match(text); ok {
			logger.Info("turn_intent_reply", "text_len", len(text))
			o.persistTurn(ctx, logger, identity, text, reply)
			o.send(identity, reply)
			return
		}
	}

	history, err := o.store.Load(ctx, identity, o.cfg.HistoryLimit)
	if err != nil {
		// Degrade to a stateless reply rather than failing the turn.
		logger.Warn("history_load_failed", "error", err.Error())
		history = nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.cfg.SystemPrompt})
	for _, e := range history {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	res, err := o.dispatcher.Dispatch(ctx, llm.Request{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		// Exhaustion and every other dispatch failure look identical to
		// the owner: one fixed string, no internals, no appends.
		logger.Warn("turn_dispatch_failed", "error", err.Error())
		o.send(identity, o.cfg.FallbackText)
		return
	}

	reply := strings.TrimSpace(res.Text)
	if reply == "" {
		logger.Warn("turn_empty_completion")
		o.send(identity, o.cfg.FallbackText)
		return
	}

	logger.Info("turn_done",
		"history_len", len(history),
		"total_tokens", res.Usage.TotalTokens,
		"duration", res.Duration.String(),
	)

	o.persistTurn(ctx, logger, identity, text, reply)
	o.send(identity, reply)
}

// persistTurn appends the user/assistant pair, unless the user message
// is filler: then neither half is stored, keeping history strictly
// turn-paired.
func (o *Orchestrator) persistTurn(ctx context.Context, logger *slog.Logger, identity, text, reply string) {
	if convo.LowValue(text, o.cfg.FillerWords...) {
		logger.Debug("turn_not_persisted", "reason", "low_value")
		return
	}
	err := o.store.Append(ctx, identity,
		convo.Entry{Role: llm.RoleUser, Content: text},
		convo.Entry{Role: llm.RoleAssistant, Content: reply},
	)
	if err != nil {
		// Losing one turn of memory is acceptable; losing the reply
		// is not. Log and move on.
		logger.Warn("history_save_failed", "error", err.Error())
	}
}

// ResetHistory drops an identity's conversation log when the store
// supports it. Wired to the owner /reset command.
func (o *Orchestrator) ResetHistory(ctx context.Context, identity string) bool {
	type clearer interface {
		Clear(ctx context.Context, identity string) error
	}
	c, ok := o.store.(clearer)
	if !ok {
		return false
	}
	if err := c.Clear(ctx, identity); err != nil {
		o.logger.Warn("history_reset_failed", "identity", identity, "error", err.Error())
		return false
	}
	return true
}
