package core

import (
	"context"
	"fmt"
	"strings"
)

// Processor transforms one input item into one output item.
type Processor[In any, Out any] interface {
	Process(ctx context.Context, in In) (Out, error)
}

// ProcessFunc adapts a function to the Processor interface.
type ProcessFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f ProcessFunc[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// TransportError marks a network or non-200 HTTP failure talking to the board API.
// Lookups retry these.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "transport error"
	}
	if strings.TrimSpace(e.Op) == "" {
		return "transport: " + e.Err.Error()
	}
	return fmt.Sprintf("transport: %s: %s", e.Op, e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFoundError reports that a result page held no candidate with an accessible file.
// Lookups retry these.
type NotFoundError struct {
	Query string
	// Posts is the number of posts returned on the page (0 when the page was empty).
	Posts int
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "not found"
	}
	if e.Posts == 0 {
		return fmt.Sprintf("no posts returned for %q", e.Query)
	}
	return fmt.Sprintf("no accessible file in %d posts for %q", e.Posts, e.Query)
}

// ConfigError is a caller-side configuration mistake. It is fatal at startup.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "config error"
	}
	if strings.TrimSpace(e.Field) == "" {
		return "config error: " + e.Msg
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

// TaskError wraps any failure that escaped a worker task, including recovered panics.
type TaskError struct {
	Err error
	// Panicked is set when Err was produced from a recovered panic.
	Panicked bool
}

func (e *TaskError) Error() string {
	if e == nil || e.Err == nil {
		return "task error"
	}
	if e.Panicked {
		return "task panicked: " + e.Err.Error()
	}
	return "task failed: " + e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
