package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zen-systems/concierge/pkg/config"
	"github.com/zen-systems/concierge/pkg/engine"
	"github.com/zen-systems/concierge/pkg/tool"
)

// Handler answers queries for one intent.
type Handler interface {
	Handle(ctx context.Context, query string, user tool.User) *engine.Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, query string, user tool.User) *engine.Result

// Handle calls the function.
func (f HandlerFunc) Handle(ctx context.Context, query string, user tool.User) *engine.Result {
	return f(ctx, query, user)
}

// HandlerFactory builds the handler for an intent label. The router calls
// it at most once per label and caches the instance.
type HandlerFactory func(intent string) (Handler, error)

// Specialist runs an execution engine with a fixed topic.
type Specialist struct {
	Topic  string
	Engine *engine.Engine
}

// Handle runs the specialist's engine for one query.
func (h *Specialist) Handle(ctx context.Context, query string, user tool.User) *engine.Result {
	return h.Engine.Run(ctx, engine.Request{Query: query, User: user, Topic: h.Topic})
}

// NewSpecialistFactory builds engine-backed specialists from the intent
// table. decorators supplies optional per-intent answer decorators, keyed
// by intent label.
func NewSpecialistFactory(cfg *config.AssistantConfig, tools *tool.Registry, sender engine.PromptSender, logger zerolog.Logger, decorators map[string][]engine.AnswerDecorator) HandlerFactory {
	return func(intent string) (Handler, error) {
		ic, ok := cfg.Router.Intents[intent]
		if !ok {
			return nil, fmt.Errorf("no handler registered for intent %q", intent)
		}

		topic := ic.Specialist
		if topic == "" {
			topic = intent
		}
		eng := engine.New(cfg.Engine, tools, sender,
			engine.WithLogger(logger.With().Str("specialist", intent).Logger()),
			engine.WithDecorators(decorators[intent]...),
		)
		return &Specialist{Topic: topic, Engine: eng}, nil
	}
}
