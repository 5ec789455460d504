// Package retry runs an ordered list of fallback strategies.
package retry

import (
	"context"
	"errors"
	"fmt"
)

// Strategy is one candidate way of producing a result.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Attempt records a failed strategy.
type Attempt struct {
	Name string
	Err  error
}

// ExhaustedError is returned when every strategy failed with a fallback-able error.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "retry: no strategies"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("retry: all %d strategies failed, last %s: %v", len(e.Attempts), last.Name, last.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Ordered tries each strategy in order and returns the first success along
// with the name of the strategy that produced it. An error for which
// fallback returns false stops the chain immediately and is returned as is.
// Each strategy runs at most once.
func Ordered[T any](ctx context.Context, fallback func(error) bool, strategies ...Strategy[T]) (T, string, error) {
	var zero T
	exhausted := &ExhaustedError{}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, err := s.Run(ctx)
		if err == nil {
			return v, s.Name, nil
		}
		if fallback == nil || !fallback(err) || errors.Is(err, context.Canceled) {
			return zero, s.Name, err
		}
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Name: s.Name, Err: err})
	}
	return zero, "", exhausted
}
