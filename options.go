package reactor

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

// Defaults for the configuration surface. Every knob has a usable
// default; options exist for tuning, not for bring-up.
const (
	// DefaultPollTimeout is the idle upper bound on one blocking poll.
	// It is advisory for liveness (bounding timer latency), not a
	// correctness requirement for any individual resource.
	DefaultPollTimeout = 1 * time.Second
	// DefaultNotifyCapacity bounds the notify channel.
	DefaultNotifyCapacity = 4096
	// DefaultMessagesPerTick bounds notify dispatch per loop iteration,
	// so a message flood cannot add unbounded tail latency to I/O.
	DefaultMessagesPerTick = 256
	// DefaultTimerTick is the timer wheel's quantization granularity.
	DefaultTimerTick = 100 * time.Millisecond
	// DefaultTimerWheelSize is the bucket count; the wheel span is one
	// tick less than the wheel size.
	DefaultTimerWheelSize = 1024
	// DefaultTimerCapacity pre-sizes the timer entry table.
	DefaultTimerCapacity = 65536
)

type config struct {
	pollTimeout     time.Duration
	notifyCapacity  int
	messagesPerTick int
	timerTick       time.Duration
	timerWheelSize  int
	timerCapacity   int
	logger          *logiface.Logger[logiface.Event]
	errorObserver   func(error)
	metricsEnabled  bool
}

// Option configures a Loop instance.
type Option interface {
	apply(*config) error
}

type optionImpl struct {
	f func(*config) error
}

func (o *optionImpl) apply(cfg *config) error { return o.f(cfg) }

func option(f func(*config) error) Option { return &optionImpl{f} }

// WithPollTimeout sets the idle upper bound on a single blocking poll.
func WithPollTimeout(d time.Duration) Option {
	return option(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("reactor: poll timeout must be positive, got %v", d)
		}
		cfg.pollTimeout = d
		return nil
	})
}

// WithNotifyCapacity sets the bounded notify channel's capacity. Sends
// beyond it fail with ErrNotifyFull.
func WithNotifyCapacity(n int) Option {
	return option(func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("reactor: notify capacity must be positive, got %d", n)
		}
		cfg.notifyCapacity = n
		return nil
	})
}

// WithMessagesPerTick caps notify messages dispatched per loop iteration;
// leftovers stay queued for the next iteration.
func WithMessagesPerTick(n int) Option {
	return option(func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("reactor: messages per tick must be positive, got %d", n)
		}
		cfg.messagesPerTick = n
		return nil
	})
}

// WithTimerTick sets the timer wheel granularity. Timer deadlines
// quantize up to whole ticks.
func WithTimerTick(d time.Duration) Option {
	return option(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("reactor: timer tick must be positive, got %v", d)
		}
		cfg.timerTick = d
		return nil
	})
}

// WithTimerWheelSize sets the wheel's bucket count (rounded up to a power
// of two). The wheel span, the farthest schedulable deadline, is one tick
// less than the wheel size.
func WithTimerWheelSize(n int) Option {
	return option(func(cfg *config) error {
		if n <= 1 {
			return fmt.Errorf("reactor: timer wheel size must exceed 1, got %d", n)
		}
		cfg.timerWheelSize = n
		return nil
	})
}

// WithTimerCapacity pre-sizes the timer entry table. It is a hint, not a
// limit.
func WithTimerCapacity(n int) Option {
	return option(func(cfg *config) error {
		if n < 0 {
			return fmt.Errorf("reactor: timer capacity must not be negative, got %d", n)
		}
		cfg.timerCapacity = n
		return nil
	})
}

// WithLogger attaches a structured logger. A nil logger (also the
// default) disables logging entirely.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return option(func(cfg *config) error {
		cfg.logger = logger
		return nil
	})
}

// WithErrorObserver sets the observer invoked with every handler-level
// error caught at the dispatch boundary. Handler errors never crash the
// loop; without an observer they are only logged.
func WithErrorObserver(fn func(error)) Option {
	return option(func(cfg *config) error {
		cfg.errorObserver = fn
		return nil
	})
}

// WithMetrics enables runtime metrics collection, exposed via
// Loop.Metrics. Collection adds a timestamp read around each callback;
// leave disabled for zero-overhead hot paths.
func WithMetrics(enabled bool) Option {
	return option(func(cfg *config) error {
		cfg.metricsEnabled = enabled
		return nil
	})
}

func resolveOptions(opts []Option) (*config, error) {
	cfg := &config{
		pollTimeout:     DefaultPollTimeout,
		notifyCapacity:  DefaultNotifyCapacity,
		messagesPerTick: DefaultMessagesPerTick,
		timerTick:       DefaultTimerTick,
		timerWheelSize:  DefaultTimerWheelSize,
		timerCapacity:   DefaultTimerCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
