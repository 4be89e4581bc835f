// Package poll implements a generic bounded-duration polling loop with
// exponential backoff between probes. It carries no domain knowledge; any
// caller waiting on an asynchronous condition (a QR code appearing, a
// database becoming reachable) can use it.
package poll

import (
	"context"
	"time"

	"wagate/internal/constants"

	"github.com/sirupsen/logrus"
)

// Config controls a polling loop
type Config struct {
	MaxDuration       time.Duration `json:"max_duration"`
	InitialInterval   time.Duration `json:"initial_interval"`
	MaxInterval       time.Duration `json:"max_interval"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxDuration:       time.Duration(constants.DefaultPollMaxDurationSec) * time.Second,
		InitialInterval:   time.Duration(constants.DefaultPollInitialMs) * time.Millisecond,
		MaxInterval:       time.Duration(constants.DefaultPollMaxIntervalMs) * time.Millisecond,
		BackoffMultiplier: constants.DefaultPollBackoffFactor,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// Result carries the outcome of a polling loop. Value holds the last probed
// value; Found reports whether the probe produced at least one value.
type Result[T any] struct {
	Value    T
	Found    bool
	TimedOut bool
	Attempts int
}

// Probe produces a candidate value. A failing probe does not abort the loop;
// the failure is logged and treated as "condition not yet met".
type Probe[T any] func(ctx context.Context) (T, error)

// Until repeatedly invokes probe until predicate accepts the probed value or
// cfg.MaxDuration elapses. Between probes the caller sleeps for the current
// interval, which grows by BackoffMultiplier and is capped at MaxInterval.
// Backoff growth is unconditional: probe failures and not-yet-met predicates
// back off alike.
//
// The deadline is local to the loop. A probe already in flight when the
// deadline passes runs to completion; its value is returned tagged
// TimedOut=true if the predicate still does not accept it. Context
// cancellation is reported the same way as a timeout.
func Until[T any](ctx context.Context, cfg Config, probe Probe[T], predicate func(T) bool, logger *logrus.Logger) Result[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()

	deadline := time.Now().Add(cfg.MaxDuration)
	interval := cfg.InitialInterval

	var result Result[T]
	for {
		result.Attempts++

		value, err := probe(ctx)
		if err != nil {
			logger.WithError(err).WithField("attempt", result.Attempts).Debug("Poll probe failed")
		} else {
			result.Value = value
			result.Found = true
			if predicate(value) {
				return result
			}
		}

		if time.Now().After(deadline) {
			result.TimedOut = true
			return result
		}

		select {
		case <-ctx.Done():
			result.TimedOut = true
			return result
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * cfg.BackoffMultiplier)
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}
