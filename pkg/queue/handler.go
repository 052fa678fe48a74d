package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrymomot/notifykit/pkg/retry"
)

type (
	// Handler runs tasks with a matching name.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	TaskHandlerFunc[T any]  func(ctx context.Context, payload T) error
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// NewTaskHandler decodes the JSON payload into T; undecodable payloads fail
// terminally. The handler is registered
// under TaskName[T](), the same name Enqueue derives from a T payload.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return &oneTimeTaskHandler[T]{
		name:    TaskName[T](),
		handler: handler,
	}
}

// NewPeriodicTaskHandler wraps a payload-less function under an explicit name.
func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &periodicTaskHandler{
		name:    name,
		handler: handler,
	}
}

// TaskName returns the task name used for payloads of type T.
func TaskName[T any]() string {
	var payload T
	return qualifiedStructName(payload)
}

func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}

type oneTimeTaskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *oneTimeTaskHandler[T]) Name() string {
	return h.name
}

func (h *oneTimeTaskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return retry.Terminal(fmt.Errorf("decode %s payload: %w", h.name, err))
		}
	}
	return h.handler(ctx, t)
}

type periodicTaskHandler struct {
	name    string
	handler PeriodicTaskHandlerFunc
}

func (h *periodicTaskHandler) Name() string {
	return h.name
}

func (h *periodicTaskHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.handler(ctx)
}
