// Package breaker guards an emitter with a circuit breaker. While the
// breaker is open, emits fail fast without reaching the transport.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stickerlandia/printq/emitter"
	"github.com/stickerlandia/printq/logger"
)

// Settings configures the breaker. Zero values take the defaults.
type Settings struct {
	MaxRequests  uint32        // requests allowed while half-open
	Interval     time.Duration // period clearing the counts while closed
	Timeout      time.Duration // time spent open before going half-open
	FailureRatio float64       // failure ratio tripping the breaker
	MinRequests  uint32        // requests needed before the ratio is evaluated
}

func validateSettings(s *Settings) {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		s.FailureRatio = 0.5
	}
	if s.MinRequests == 0 {
		s.MinRequests = 3
	}
}

type Emitter struct {
	next    emitter.Emitter
	breaker *gobreaker.CircuitBreaker
	logger  logger.Logger
}

var _ emitter.Emitter = (*Emitter)(nil)
var _ logger.Loggable = (*Emitter)(nil)

func New(next emitter.Emitter, s Settings) *Emitter {
	if next == nil || reflect.ValueOf(next).IsNil() {
		panic("emitter is mandatory")
	}
	validateSettings(&s)
	e := &Emitter{next: next, logger: &logger.NopLogger{}}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "emitter",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn(fmt.Sprintf("circuit breaker %s went from %s to %s", name, from, to))
		},
	})
	return e
}

// SetLogger sets an optional logger, shared with the wrapped emitter.
func (e *Emitter) SetLogger(l logger.Logger) {
	e.logger = l
	if lg, ok := e.next.(logger.Loggable); ok {
		lg.SetLogger(l)
	}
}

// State reports the breaker state (closed, half-open or open).
func (e *Emitter) State() string {
	return e.breaker.State().String()
}

func (e *Emitter) Emit(ctx context.Context, m *emitter.Message) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, e.next.Emit(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("emitter refused by circuit breaker: %w", err)
	}
	return err
}
