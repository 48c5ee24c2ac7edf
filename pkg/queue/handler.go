package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// NewTaskHandler decodes the JSON payload into T before calling fn. The
// handler is registered under T's qualified type name, the same name
// Enqueue assigns to a T payload.
func NewTaskHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	var zero T
	return &typedHandler[T]{name: TaskName(zero), fn: fn}
}

// NewPeriodicTaskHandler registers fn under name for tasks created by a
// Scheduler.
func NewPeriodicTaskHandler(name string, fn func(ctx context.Context) error) Handler {
	return &periodicHandler{name: name, fn: fn}
}

// Named payloads choose their own task name.
type Named interface {
	TaskName() string
}

// TaskName returns the task name used for payload v: its own name when it
// implements Named, its qualified type name otherwise.
func TaskName(v any) string {
	if n, ok := v.(Named); ok {
		return n.TaskName()
	}
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}

type typedHandler[T any] struct {
	name string
	fn   func(ctx context.Context, payload T) error
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		// a payload that does not decode never will
		return SkipRetry(fmt.Errorf("decode %s payload: %w", h.name, err))
	}
	return h.fn(ctx, v)
}

type periodicHandler struct {
	name string
	fn   func(ctx context.Context) error
}

func (h *periodicHandler) Name() string { return h.name }

func (h *periodicHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.fn(ctx)
}
